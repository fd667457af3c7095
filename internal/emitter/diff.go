package emitter

import (
	"sort"
	"sync"

	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/rotation"
)

// ChangeType classifies how an instance's retention changed between runs
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
	ChangeCount   ChangeType = "count"
	ChangeLimit   ChangeType = "limit"
)

// InstanceState is the retention state of one instance after a run
type InstanceState struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name,omitempty"`
	Limit      int    `json:"limit"`
	Snapshots  int    `json:"snapshots"`
}

// InstanceChange is one detected difference
type InstanceChange struct {
	Type     ChangeType     `json:"type"`
	Current  InstanceState  `json:"current"`
	Previous *InstanceState `json:"previous,omitempty"`
}

// StatesFromReport derives post-run state for every instance whose
// snapshot count is known. Instances that failed before listing their
// snapshots are left out.
func StatesFromReport(report *orchestrator.RunReport) []InstanceState {
	states := make([]InstanceState, 0, len(report.Results))
	for _, res := range report.Results {
		if res.FailedStep == rotation.StateInventory {
			continue
		}
		count := res.SnapshotsBefore
		if !res.DryRun {
			count -= len(res.Evicted)
			if res.Created != nil {
				count++
			}
		}
		state := InstanceState{
			InstanceID: res.InstanceID,
			Limit:      res.Limit,
			Snapshots:  count,
		}
		if res.Instance != nil {
			state.Name = res.Instance.DisplayName()
		}
		states = append(states, state)
	}
	return states
}

// DiffTracker tracks instance state between runs and detects changes.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]InstanceState
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]InstanceState),
	}
}

// ComputeDiff compares current state against the previous run.
// Returns nil on the first run and an empty slice when nothing changed.
// Changes are ordered by instance ID.
func (d *DiffTracker) ComputeDiff(current []InstanceState) []InstanceChange {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexStates(current)
	diffs := make([]InstanceChange, 0)

	for id, prev := range d.previous {
		curr, exists := currentMap[id]
		prevCopy := prev
		switch {
		case !exists:
			diffs = append(diffs, InstanceChange{Type: ChangeRemoved, Current: prev, Previous: &prevCopy})
		case curr.Limit != prev.Limit:
			diffs = append(diffs, InstanceChange{Type: ChangeLimit, Current: curr, Previous: &prevCopy})
		case curr.Snapshots != prev.Snapshots:
			diffs = append(diffs, InstanceChange{Type: ChangeCount, Current: curr, Previous: &prevCopy})
		}
	}

	for id, curr := range currentMap {
		if _, exists := d.previous[id]; !exists {
			diffs = append(diffs, InstanceChange{Type: ChangeAdded, Current: curr})
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		return diffs[i].Current.InstanceID < diffs[j].Current.InstanceID
	})
	return diffs
}

// Update stores current as the baseline for the next comparison.
func (d *DiffTracker) Update(current []InstanceState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.previous = indexStates(current)
	d.initialized = true
}

// Snapshot returns the baseline sorted by instance ID.
func (d *DiffTracker) Snapshot() []InstanceState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]InstanceState, 0, len(d.previous))
	for _, s := range d.previous {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func indexStates(states []InstanceState) map[string]InstanceState {
	m := make(map[string]InstanceState, len(states))
	for _, s := range states {
		m[s.InstanceID] = s
	}
	return m
}
