// snapkeep - periodic snapshot retention for cloud instances.
// Keep N. Evict the oldest. Snapshot.
package main

func main() {
	Execute()
}
