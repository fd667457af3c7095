// Package orchestrator runs one retention pass over every instance while
// holding the run lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yairfalse/snapkeep/limits"
	"github.com/yairfalse/snapkeep/logstore"
	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/runlock"
	"github.com/yairfalse/snapkeep/telemetry"
	"github.com/yairfalse/snapkeep/types"
)

// Options configure a run
type Options struct {
	DryRun     bool
	Policy     rotation.EvictionPolicy
	MaxEntries int
	ExitPolicy ExitPolicy
}

// Orchestrator coordinates lock → compact → enumerate → rotate
type Orchestrator struct {
	client   providers.InventoryClient
	resolver *limits.Resolver
	locker   runlock.Locker
	store    logstore.Store
	engine   *rotation.Engine
	options  Options

	logger   *telemetry.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	notifier Notifier
	clock    func() time.Time
}

// NewOrchestrator creates a new orchestrator. store may be nil, in which
// case no compaction happens.
func NewOrchestrator(client providers.InventoryClient, resolver *limits.Resolver, locker runlock.Locker, store logstore.Store, options Options) *Orchestrator {
	if options.MaxEntries <= 0 {
		options.MaxEntries = logstore.DefaultMaxEntries
	}
	if options.ExitPolicy == "" {
		options.ExitPolicy = ExitLenient
	}

	o := &Orchestrator{
		client:   client,
		resolver: resolver,
		locker:   locker,
		store:    store,
		options:  options,
		logger:   telemetry.NewNopLogger(),
		tracer:   noop.NewTracerProvider().Tracer(telemetry.InstrumentationName),
		notifier: NopNotifier{},
		clock:    time.Now,
	}
	o.engine = rotation.NewEngine(client, rotation.Options{DryRun: options.DryRun, Policy: options.Policy})
	return o
}

// WithLogger sets the logger for the coordinator and its engine
func (o *Orchestrator) WithLogger(logger *telemetry.Logger) *Orchestrator {
	o.logger = logger
	o.engine.WithLogger(logger.Logger)
	return o
}

// WithTracer sets the tracer
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	o.tracer = tracer
	return o
}

// WithMetrics sets the instruments
func (o *Orchestrator) WithMetrics(metrics *telemetry.Metrics) *Orchestrator {
	o.metrics = metrics
	return o
}

// WithNotifier sets the report sink
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// WithClock overrides the run timestamp source
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// ExitPolicy returns the configured exit policy
func (o *Orchestrator) ExitPolicy() ExitPolicy {
	return o.options.ExitPolicy
}

// RunOnce performs one complete pass. It returns an error only for fatal
// conditions: the lock is held, or instances could not be enumerated.
// Per-instance failures are reported in the RunReport.
func (o *Orchestrator) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		Provider:  o.client.Name(),
		StartedAt: time.Now(),
		DryRun:    o.options.DryRun,
	}

	lease, err := o.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, types.ErrAlreadyRunning) {
			o.logger.LogLockConflict(ctx, err)
			o.metrics.RecordLockContention(ctx, o.locker.Name())
			o.metrics.RecordRun(ctx, telemetry.RunStatusConflict, o.options.DryRun, time.Since(report.StartedAt))
			return nil, err
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer o.release(ctx, lease)

	o.compact(ctx, report)

	runTime := o.clock().UTC()
	report.Timestamp = types.FormatTimestamp(runTime)

	ctx, span := telemetry.StartRun(ctx, o.tracer, report.RunID, report.Provider, o.options.DryRun)
	defer span.End()

	logger := o.logger.WithContext(ctx).With().Str("run_id", report.RunID).Logger()

	instances, err := o.client.ListInstances(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list instances: %w", err)
		span.Fail(err)
		logger.Error().Err(err).Msg("enumeration failed, run aborted")
		report.Errors = append(report.Errors, err.Error())
		o.finish(ctx, report, telemetry.RunStatusFailed)
		return report, err
	}
	report.Instances = len(instances)
	span.SetInstanceCount(len(instances))
	o.logger.LogRunStart(ctx, report.RunID, len(instances), o.options.DryRun)

	for _, inst := range instances {
		if ctx.Err() != nil {
			report.Interrupted = true
			logger.Warn().Err(ctx.Err()).Msg("run interrupted, remaining instances skipped")
			break
		}
		o.rotate(ctx, inst, runTime, report)
	}

	span.SetTotals(report.Created, report.Evicted, report.Failed)
	o.finish(ctx, report, report.Status())
	return report, nil
}

func (o *Orchestrator) release(ctx context.Context, lease runlock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		o.logger.WithContext(ctx).Error().
			Err(err).
			Str("lock", o.locker.Name()).
			Msg("failed to release run lock")
	}
}

// compact bounds the log store before the run writes to it. A failure is
// logged and the run continues.
func (o *Orchestrator) compact(ctx context.Context, report *RunReport) {
	if o.store == nil {
		return
	}

	removed, err := o.store.Compact(o.options.MaxEntries)
	if err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Msg("log compaction failed")
		return
	}
	report.Compacted = removed
	if removed > 0 {
		o.logger.LogCompaction(ctx, removed, o.options.MaxEntries)
	}
}

func (o *Orchestrator) rotate(ctx context.Context, inst types.Instance, runTime time.Time, report *RunReport) {
	limit := o.resolver.Limit(inst.ID)

	ctx, span := telemetry.StartRotation(ctx, o.tracer, inst.ID, limit)
	result := o.engine.Rotate(ctx, inst.ID, limit, runTime)
	for _, action := range result.Actions {
		target := action.SnapshotID
		if action.Kind == rotation.ActionCreate {
			target = action.Description
		}
		span.RecordAction(string(action.Kind), target, action.Executed)
	}
	span.Finish(string(result.Outcome), result.Err)

	report.Results = append(report.Results, result)
	created := 0
	if !result.Failed() {
		created = 1
	}
	o.metrics.RecordRotation(ctx, string(result.Outcome), len(result.Evicted), created, result.DryRun)

	logger := o.logger.WithContext(ctx).With().
		Str("run_id", report.RunID).
		Str("instance_id", inst.ID).
		Str("instance", inst.DisplayName()).
		Int("limit", limit).
		Logger()

	if result.Failed() {
		report.Failed++
		report.Errors = append(report.Errors, result.Err.Error())
		logger.Error().
			Err(result.Err).
			Str("step", string(result.FailedStep)).
			Int("snapshots_before", result.SnapshotsBefore).
			Msg("rotation failed")
		return
	}

	report.Evicted += len(result.Evicted)
	report.Created++

	actions := make([]string, 0, len(result.Actions))
	for _, action := range result.Actions {
		actions = append(actions, action.String())
	}
	logger.Info().
		Str("outcome", string(result.Outcome)).
		Int("snapshots_before", result.SnapshotsBefore).
		Str("description", result.Description).
		Strs("actions", actions).
		Bool("dry_run", result.DryRun).
		Msg("rotation complete")
}

func (o *Orchestrator) finish(ctx context.Context, report *RunReport, status string) {
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	o.metrics.RecordRun(ctx, status, report.DryRun, report.Duration)

	o.logger.WithContext(ctx).Info().
		Str("run_id", report.RunID).
		Str("status", status).
		Int("instances", report.Instances).
		Int("created", report.Created).
		Int("evicted", report.Evicted).
		Int("failed", report.Failed).
		Bool("interrupted", report.Interrupted).
		Bool("dry_run", report.DryRun).
		Dur("duration", report.Duration).
		Msg("run complete")

	if err := o.notifier.Notify(ctx, report); err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Msg("failed to deliver run report")
	}
}
