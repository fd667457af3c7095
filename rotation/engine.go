// Package rotation implements the per-instance evict-then-create cycle.
package rotation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/types"
)

// Options configure engine behavior
type Options struct {
	DryRun bool
	Policy EvictionPolicy
}

// Engine rotates snapshots of one instance at a time
type Engine struct {
	client  providers.InventoryClient
	options Options
	logger  zerolog.Logger
}

// NewEngine creates a rotation engine
func NewEngine(client providers.InventoryClient, options Options) *Engine {
	if options.Policy == "" {
		options.Policy = PolicySingle
	}
	return &Engine{
		client:  client,
		options: options,
		logger:  zerolog.Nop(),
	}
}

// WithLogger sets the logger used for step-level debug output
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	e.logger = logger
	return e
}

// DryRun reports whether mutations are simulated
func (e *Engine) DryRun() bool {
	return e.options.DryRun
}

// rotation carries the working state of one Rotate call
type rotation struct {
	result    *Result
	inventory *Inventory
	runTime   time.Time
}

// Rotate walks INVENTORY → DECIDE → EVICT → CREATE for one instance.
// runTime is the run's capture instant, shared by every instance in a run.
// Failures never escape as panics or returned errors: they end the
// machine in StateFailed with Result.Err set.
func (e *Engine) Rotate(ctx context.Context, instanceID string, limit int, runTime time.Time) Result {
	result := &Result{
		InstanceID: instanceID,
		Limit:      limit,
		DryRun:     e.options.DryRun,
		StartedAt:  time.Now(),
	}
	r := &rotation{result: result, runTime: runTime}
	logger := e.logger.With().Str("instance_id", instanceID).Int("limit", limit).Logger()

	state := StateInventory
	for state != StateDone {
		logger.Debug().Str("state", string(state)).Msg("rotation step")

		next, err := e.step(ctx, state, r)
		if err != nil {
			result.FailedStep = state
			result.State = StateFailed
			result.Outcome = OutcomeFailed
			result.Err = &StepError{InstanceID: instanceID, Step: state, Err: err}
			result.Duration = time.Since(result.StartedAt)
			return *result
		}
		state = next
	}

	result.State = StateDone
	result.Outcome = OutcomeCreateOnly
	if len(result.Evicted) > 0 {
		result.Outcome = OutcomeEvictedCreated
	}
	result.Duration = time.Since(result.StartedAt)
	return *result
}

func (e *Engine) step(ctx context.Context, state State, r *rotation) (State, error) {
	switch state {
	case StateInventory:
		return e.inventory(ctx, r)
	case StateDecide:
		return e.decide(r), nil
	case StateEvict:
		return e.evict(ctx, r)
	case StateCreate:
		return e.create(ctx, r)
	default:
		return StateDone, nil
	}
}

func (e *Engine) inventory(ctx context.Context, r *rotation) (State, error) {
	inst, err := e.client.GetInstance(ctx, r.result.InstanceID)
	if err != nil {
		return StateFailed, err
	}
	if inst == nil {
		return StateFailed, types.NewNotFoundError("get instance", r.result.InstanceID)
	}
	r.result.Instance = inst

	snapshots, err := e.client.ListSnapshots(ctx, inst.ID)
	if err != nil {
		return StateFailed, err
	}
	r.inventory = NewInventory(snapshots)
	r.result.SnapshotsBefore = r.inventory.Len()

	return StateDecide, nil
}

// decide compares the count before creation against the limit. The limit
// bounds the count before the new snapshot is added.
func (e *Engine) decide(r *rotation) State {
	if needsEviction(r.inventory.Len(), r.result.Limit) {
		return StateEvict
	}
	return StateCreate
}

func needsEviction(count, limit int) bool {
	return count > 0 && count >= limit
}

func (e *Engine) evict(ctx context.Context, r *rotation) (State, error) {
	candidate, ok := r.inventory.Oldest()
	if !ok {
		return StateCreate, nil
	}

	action := Action{Kind: ActionDelete, SnapshotID: candidate.ID}
	if !e.options.DryRun {
		if err := e.client.DeleteSnapshot(ctx, candidate.ID); err != nil {
			return StateFailed, err
		}
		action.Executed = true
	}

	r.inventory.Remove(candidate)
	r.result.Evicted = append(r.result.Evicted, candidate)
	r.result.Actions = append(r.result.Actions, action)

	if e.options.Policy == PolicyPrune && needsEviction(r.inventory.Len(), r.result.Limit) {
		return StateEvict, nil
	}
	return StateCreate, nil
}

func (e *Engine) create(ctx context.Context, r *rotation) (State, error) {
	description := types.SnapshotDescription(*r.result.Instance, r.runTime)
	r.result.Description = description

	action := Action{Kind: ActionCreate, Description: description}
	if e.options.DryRun {
		r.result.Actions = append(r.result.Actions, action)
		return StateDone, nil
	}

	snap, err := e.client.CreateSnapshot(ctx, r.result.InstanceID, description)
	if err != nil {
		return StateFailed, err
	}
	if snap == nil {
		return StateFailed, types.NewCreateFailedError(r.result.InstanceID, "provider returned no snapshot", nil)
	}

	action.Executed = true
	action.SnapshotID = snap.ID
	r.result.Created = snap
	r.result.Actions = append(r.result.Actions, action)
	return StateDone, nil
}
