// Package memory implements an in-process InventoryClient. It backs the
// engine and coordinator tests and local rehearsals of a rotation policy.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/types"
)

// Op names a remote operation for fault injection and call counting
type Op string

const (
	OpListInstances Op = "list_instances"
	OpGetInstance   Op = "get_instance"
	OpListSnapshots Op = "list_snapshots"
	OpCreate        Op = "create_snapshot"
	OpDelete        Op = "delete_snapshot"
)

// anyID matches every resource in FailOn
const anyID = "*"

// Provider keeps instances and snapshots in memory
type Provider struct {
	mu        sync.Mutex
	region    string
	instances []types.Instance
	snapshots map[string][]types.Snapshot
	faults    map[Op]map[string]error
	calls     map[Op]int
	clock     func() time.Time
	seq       int
}

// New creates an empty provider
func New(region string) *Provider {
	return &Provider{
		region:    region,
		snapshots: make(map[string][]types.Snapshot),
		faults:    make(map[Op]map[string]error),
		calls:     make(map[Op]int),
		clock:     time.Now,
	}
}

// WithClock sets the clock used for CreatedAt on new snapshots
func (p *Provider) WithClock(clock func() time.Time) *Provider {
	p.clock = clock
	return p
}

// AddInstance registers an instance with pre-existing snapshots
func (p *Provider) AddInstance(inst types.Instance, snapshots ...types.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.instances = append(p.instances, inst)
	for _, s := range snapshots {
		s.InstanceID = inst.ID
		p.snapshots[inst.ID] = append(p.snapshots[inst.ID], s)
	}
}

// FailOn makes op return err for resource id. An empty id matches any resource.
func (p *Provider) FailOn(op Op, id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == "" {
		id = anyID
	}
	if p.faults[op] == nil {
		p.faults[op] = make(map[string]error)
	}
	p.faults[op][id] = err
}

// Calls returns how many times op was invoked
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Snapshots returns a copy of the snapshots held for an instance
func (p *Provider) Snapshots(instanceID string) []types.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Snapshot(nil), p.snapshots[instanceID]...)
}

// Name returns the provider name
func (p *Provider) Name() string { return "memory" }

// Region returns the configured region
func (p *Provider) Region() string { return p.region }

// ListInstances returns instances in insertion order
func (p *Provider) ListInstances(ctx context.Context) ([]types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(OpListInstances, ""); err != nil {
		return nil, err
	}
	return append([]types.Instance(nil), p.instances...), nil
}

// GetInstance returns a single instance
func (p *Provider) GetInstance(ctx context.Context, id string) (*types.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(OpGetInstance, id); err != nil {
		return nil, err
	}
	for _, inst := range p.instances {
		if inst.ID == id {
			found := inst
			return &found, nil
		}
	}
	return nil, types.NewNotFoundError("get instance", id)
}

// ListSnapshots returns the snapshots of one instance in storage order
func (p *Provider) ListSnapshots(ctx context.Context, instanceID string) ([]types.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(OpListSnapshots, instanceID); err != nil {
		return nil, err
	}
	return append([]types.Snapshot(nil), p.snapshots[instanceID]...), nil
}

// CreateSnapshot appends a new snapshot stamped with the provider clock
func (p *Provider) CreateSnapshot(ctx context.Context, instanceID, description string) (*types.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(OpCreate, instanceID); err != nil {
		return nil, err
	}
	if !p.hasInstance(instanceID) {
		return nil, types.NewCreateFailedError(instanceID, "unknown instance", types.NewNotFoundError("get instance", instanceID))
	}

	p.seq++
	snap := types.Snapshot{
		ID:          fmt.Sprintf("snap-%04d", p.seq),
		InstanceID:  instanceID,
		CreatedAt:   p.clock(),
		Description: description,
		Status:      "complete",
	}
	p.snapshots[instanceID] = append(p.snapshots[instanceID], snap)
	return &snap, nil
}

// DeleteSnapshot removes a snapshot; a missing snapshot is a failure
func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enter(OpDelete, snapshotID); err != nil {
		return err
	}
	for instanceID, snaps := range p.snapshots {
		for i, s := range snaps {
			if s.ID == snapshotID {
				p.snapshots[instanceID] = append(snaps[:i:i], snaps[i+1:]...)
				return nil
			}
		}
	}
	return types.NewDeleteFailedError(snapshotID, "snapshot does not exist", types.ErrNotFound)
}

// enter counts the call and returns an injected fault, if any
func (p *Provider) enter(op Op, id string) error {
	p.calls[op]++
	faults := p.faults[op]
	if faults == nil {
		return nil
	}
	if err, ok := faults[id]; ok {
		return err
	}
	return faults[anyID]
}

func (p *Provider) hasInstance(id string) bool {
	for _, inst := range p.instances {
		if inst.ID == id {
			return true
		}
	}
	return false
}

var _ providers.InventoryClient = (*Provider)(nil)
