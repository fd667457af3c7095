package rotation

import (
	"fmt"
	"time"

	"github.com/yairfalse/snapkeep/types"
)

// State is a step of the per-instance rotation
type State string

const (
	StateInventory State = "inventory"
	StateDecide    State = "decide"
	StateEvict     State = "evict"
	StateCreate    State = "create"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Outcome summarizes a rotation for the run report
type Outcome string

const (
	OutcomeCreateOnly     Outcome = "create-only"
	OutcomeEvictedCreated Outcome = "evicted+created"
	OutcomeFailed         Outcome = "failed"
)

// EvictionPolicy controls how many snapshots one run may evict
type EvictionPolicy string

const (
	// PolicySingle evicts at most the oldest snapshot per run
	PolicySingle EvictionPolicy = "single"
	// PolicyPrune evicts oldest first until the new snapshot fits the limit
	PolicyPrune EvictionPolicy = "prune"
)

// ParsePolicy validates a policy name. Empty means PolicySingle.
func ParsePolicy(name string) (EvictionPolicy, error) {
	switch EvictionPolicy(name) {
	case "", PolicySingle:
		return PolicySingle, nil
	case PolicyPrune:
		return PolicyPrune, nil
	default:
		return "", types.NewConfigError("eviction_policy", "unknown policy %q (want single or prune)", name)
	}
}

// ActionKind names a mutating call
type ActionKind string

const (
	ActionDelete ActionKind = "delete"
	ActionCreate ActionKind = "create"
)

// Action is a mutation that was executed, or would have been in dry-run mode
type Action struct {
	Kind        ActionKind `json:"kind"`
	SnapshotID  string     `json:"snapshot_id,omitempty"`
	Description string     `json:"description,omitempty"`
	Executed    bool       `json:"executed"`
}

func (a Action) String() string {
	verb := string(a.Kind)
	if !a.Executed {
		verb = "would " + verb
	}
	if a.Kind == ActionDelete {
		return fmt.Sprintf("%s %s", verb, a.SnapshotID)
	}
	if a.SnapshotID != "" {
		return fmt.Sprintf("%s %s (%s)", verb, a.Description, a.SnapshotID)
	}
	return fmt.Sprintf("%s %s", verb, a.Description)
}

// Result is the outcome of rotating one instance
type Result struct {
	InstanceID      string           `json:"instance_id"`
	Instance        *types.Instance  `json:"instance,omitempty"`
	Limit           int              `json:"limit"`
	SnapshotsBefore int              `json:"snapshots_before"`
	Evicted         []types.Snapshot `json:"evicted,omitempty"`
	Created         *types.Snapshot  `json:"created,omitempty"`
	Description     string           `json:"description,omitempty"`
	Actions         []Action         `json:"actions,omitempty"`
	State           State            `json:"state"`
	FailedStep      State            `json:"failed_step,omitempty"`
	Outcome         Outcome          `json:"outcome"`
	DryRun          bool             `json:"dry_run"`
	Err             error            `json:"-"`
	StartedAt       time.Time        `json:"started_at"`
	Duration        time.Duration    `json:"duration"`
}

// Failed reports whether the rotation ended in StateFailed
func (r Result) Failed() bool {
	return r.State == StateFailed
}

// StepError attaches instance and step context to a per-instance failure
type StepError struct {
	InstanceID string
	Step       State
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
