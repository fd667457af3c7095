package emitter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/snapkeep/orchestrator"
)

// PrometheusEmitter exposes per-instance retention state as gauges and
// counts changes between runs.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger zerolog.Logger

	snapshots    metric.Int64ObservableGauge
	limit        metric.Int64ObservableGauge
	changesTotal metric.Int64Counter
	diffTracker  *DiffTracker
	registration metric.Registration
}

// NewPrometheusEmitter creates the emitter on meter
func NewPrometheusEmitter(meter metric.Meter) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       meter,
		logger:      zerolog.Nop(),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

// WithLogger sets the logger
func (e *PrometheusEmitter) WithLogger(logger zerolog.Logger) *PrometheusEmitter {
	e.logger = logger
	return e
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.snapshots, err = e.meter.Int64ObservableGauge(
		"snapkeep.instance.snapshots",
		metric.WithDescription("Managed snapshots per instance after the last run"),
	)
	if err != nil {
		return fmt.Errorf("create instance snapshots gauge: %w", err)
	}

	e.limit, err = e.meter.Int64ObservableGauge(
		"snapkeep.instance.limit",
		metric.WithDescription("Resolved retention limit per instance"),
	)
	if err != nil {
		return fmt.Errorf("create instance limit gauge: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"snapkeep.instance.changes",
		metric.WithDescription("Retention changes detected between runs"),
	)
	if err != nil {
		return fmt.Errorf("create instance changes counter: %w", err)
	}

	e.registration, err = e.meter.RegisterCallback(e.observe, e.snapshots, e.limit)
	if err != nil {
		return fmt.Errorf("register callback: %w", err)
	}
	return nil
}

// Notify updates the gauges from a finished run. Dry runs are ignored.
func (e *PrometheusEmitter) Notify(ctx context.Context, report *orchestrator.RunReport) error {
	if report == nil || report.DryRun {
		return nil
	}

	current := StatesFromReport(report)
	for _, change := range e.diffTracker.ComputeDiff(current) {
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", report.Provider),
			attribute.String("change_type", string(change.Type)),
		))

		event := e.logger.Info().
			Str("instance_id", change.Current.InstanceID).
			Str("change", string(change.Type)).
			Int("snapshots", change.Current.Snapshots).
			Int("limit", change.Current.Limit)
		if change.Previous != nil {
			event = event.
				Int("snapshots.from", change.Previous.Snapshots).
				Int("limit.from", change.Previous.Limit)
		}
		event.Msg("instance retention changed")
	}

	e.diffTracker.Update(current)
	return nil
}

func (e *PrometheusEmitter) observe(_ context.Context, o metric.Observer) error {
	for _, s := range e.diffTracker.Snapshot() {
		attrs := metric.WithAttributes(
			attribute.String("instance_id", s.InstanceID),
			attribute.String("name", s.Name),
		)
		o.ObserveInt64(e.snapshots, int64(s.Snapshots), attrs)
		o.ObserveInt64(e.limit, int64(s.Limit), attrs)
	}
	return nil
}

// Close unregisters the gauge callback.
func (e *PrometheusEmitter) Close() error {
	if e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
