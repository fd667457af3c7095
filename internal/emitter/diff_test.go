package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/types"
)

func state(id string, limit, snapshots int) InstanceState {
	return InstanceState{InstanceID: id, Limit: limit, Snapshots: snapshots}
}

func TestDiffTracker_FirstRun(t *testing.T) {
	tracker := NewDiffTracker()
	states := []InstanceState{state("i-001", 4, 2)}

	assert.Nil(t, tracker.ComputeDiff(states), "first run should return nil")
	tracker.Update(states)
}

func TestDiffTracker_NoChanges(t *testing.T) {
	tracker := NewDiffTracker()
	states := []InstanceState{state("i-001", 4, 4), state("i-002", 3, 3)}
	tracker.Update(states)

	diffs := tracker.ComputeDiff(states)
	require.NotNil(t, diffs)
	assert.Empty(t, diffs)
}

func TestDiffTracker_Changes(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]InstanceState{
		state("i-001", 4, 2),
		state("i-002", 4, 4),
		state("i-003", 4, 1),
	})

	diffs := tracker.ComputeDiff([]InstanceState{
		state("i-001", 4, 3),
		state("i-002", 2, 4),
		state("i-004", 4, 1),
	})

	require.Len(t, diffs, 4)
	assert.Equal(t, ChangeCount, diffs[0].Type)
	assert.Equal(t, 2, diffs[0].Previous.Snapshots)
	assert.Equal(t, 3, diffs[0].Current.Snapshots)

	assert.Equal(t, ChangeLimit, diffs[1].Type)
	assert.Equal(t, "i-002", diffs[1].Current.InstanceID)

	assert.Equal(t, ChangeRemoved, diffs[2].Type)
	assert.Equal(t, "i-003", diffs[2].Current.InstanceID)

	assert.Equal(t, ChangeAdded, diffs[3].Type)
	assert.Nil(t, diffs[3].Previous)
}

func TestDiffTracker_Snapshot(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update([]InstanceState{state("i-b", 4, 1), state("i-a", 4, 2)})

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "i-a", snap[0].InstanceID)
	assert.Equal(t, "i-b", snap[1].InstanceID)
}

func TestStatesFromReport(t *testing.T) {
	report := &orchestrator.RunReport{
		Results: []rotation.Result{
			{
				InstanceID:      "i-full",
				Instance:        &types.Instance{ID: "i-full", Label: "web"},
				Limit:           4,
				SnapshotsBefore: 4,
				Evicted:         []types.Snapshot{{ID: "s-old"}},
				Created:         &types.Snapshot{ID: "s-new"},
				State:           rotation.StateDone,
			},
			{
				InstanceID:      "i-empty",
				Limit:           3,
				SnapshotsBefore: 0,
				Created:         &types.Snapshot{ID: "s-first"},
				State:           rotation.StateDone,
			},
			{
				InstanceID:      "i-create-failed",
				Limit:           4,
				SnapshotsBefore: 2,
				State:           rotation.StateFailed,
				FailedStep:      rotation.StateCreate,
			},
			{
				InstanceID: "i-list-failed",
				State:      rotation.StateFailed,
				FailedStep: rotation.StateInventory,
			},
		},
	}

	states := StatesFromReport(report)
	require.Len(t, states, 3)
	assert.Equal(t, InstanceState{InstanceID: "i-full", Name: "web", Limit: 4, Snapshots: 4}, states[0])
	assert.Equal(t, 1, states[1].Snapshots)
	assert.Equal(t, 2, states[2].Snapshots)
}

func TestStatesFromReport_DryRunKeepsCounts(t *testing.T) {
	report := &orchestrator.RunReport{
		DryRun: true,
		Results: []rotation.Result{{
			InstanceID:      "i-1",
			Limit:           2,
			SnapshotsBefore: 2,
			DryRun:          true,
			Evicted:         []types.Snapshot{{ID: "s-1"}},
		}},
	}

	states := StatesFromReport(report)
	require.Len(t, states, 1)
	assert.Equal(t, 2, states[0].Snapshots)
}
