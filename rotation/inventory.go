package rotation

import (
	"github.com/google/btree"

	"github.com/yairfalse/snapkeep/types"
)

// Inventory holds one instance's snapshots ordered oldest first
type Inventory struct {
	tree *btree.BTreeG[types.Snapshot]
}

// NewInventory indexes snapshots by (CreatedAt, ID)
func NewInventory(snapshots []types.Snapshot) *Inventory {
	tree := btree.NewG[types.Snapshot](16, types.SnapshotLess)
	for _, s := range snapshots {
		tree.ReplaceOrInsert(s)
	}
	return &Inventory{tree: tree}
}

// Len returns the number of snapshots
func (i *Inventory) Len() int {
	return i.tree.Len()
}

// Oldest returns the eviction candidate without removing it
func (i *Inventory) Oldest() (types.Snapshot, bool) {
	return i.tree.Min()
}

// Remove drops a snapshot after it has been evicted
func (i *Inventory) Remove(s types.Snapshot) {
	i.tree.Delete(s)
}

// Snapshots returns all snapshots oldest first
func (i *Inventory) Snapshots() []types.Snapshot {
	out := make([]types.Snapshot, 0, i.tree.Len())
	i.tree.Ascend(func(s types.Snapshot) bool {
		out = append(out, s)
		return true
	})
	return out
}
