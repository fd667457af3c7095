package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Run status values for the runs counter
const (
	RunStatusOK          = "ok"
	RunStatusPartial     = "partial"
	RunStatusFailed      = "failed"
	RunStatusConflict    = "conflict"
	RunStatusInterrupted = "interrupted"
)

// Metrics holds the retention instruments. A nil *Metrics records nothing.
type Metrics struct {
	Runs             metric.Int64Counter
	RunDuration      metric.Float64Histogram
	Rotations        metric.Int64Counter
	SnapshotsEvicted metric.Int64Counter
	SnapshotsCreated metric.Int64Counter
	LockContention   metric.Int64Counter
}

// NewMetrics creates every instrument on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}

	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) initCounters(meter metric.Meter) error {
	var err error

	m.Runs, err = meter.Int64Counter(
		"snapkeep.runs",
		metric.WithDescription("Retention runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	m.Rotations, err = meter.Int64Counter(
		"snapkeep.rotations",
		metric.WithDescription("Per-instance rotations by outcome"),
		metric.WithUnit("{rotation}"),
	)
	if err != nil {
		return err
	}

	m.SnapshotsEvicted, err = meter.Int64Counter(
		"snapkeep.snapshots.evicted",
		metric.WithDescription("Snapshots deleted to make room"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return err
	}

	m.SnapshotsCreated, err = meter.Int64Counter(
		"snapkeep.snapshots.created",
		metric.WithDescription("Snapshots requested"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return err
	}

	m.LockContention, err = meter.Int64Counter(
		"snapkeep.lock.contention",
		metric.WithDescription("Runs refused because the run lock was held"),
		metric.WithUnit("{run}"),
	)
	return err
}

func (m *Metrics) initHistograms(meter metric.Meter) error {
	var err error

	m.RunDuration, err = meter.Float64Histogram(
		"snapkeep.run.duration",
		metric.WithDescription("Wall time of a retention run"),
		metric.WithUnit("s"),
	)
	return err
}

// RecordRun counts a finished run and its duration
func (m *Metrics) RecordRun(ctx context.Context, status string, dryRun bool, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("dry_run", dryRun),
	)
	m.Runs.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRotation counts one instance's outcome and its snapshot changes.
// Dry runs count the rotation but not the snapshot changes.
func (m *Metrics) RecordRotation(ctx context.Context, outcome string, evicted, created int, dryRun bool) {
	if m == nil {
		return
	}

	m.Rotations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("dry_run", dryRun),
	))
	if dryRun {
		return
	}
	if evicted > 0 {
		m.SnapshotsEvicted.Add(ctx, int64(evicted))
	}
	if created > 0 {
		m.SnapshotsCreated.Add(ctx, int64(created))
	}
}

// RecordLockContention counts a refused run
func (m *Metrics) RecordLockContention(ctx context.Context, lock string) {
	if m == nil {
		return
	}
	m.LockContention.Add(ctx, 1, metric.WithAttributes(attribute.String("lock", lock)))
}
