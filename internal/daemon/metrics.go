package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds scheduler metrics. A nil *DaemonMetrics records nothing.
type DaemonMetrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	lastSuccess  metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on meter
func NewDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	ticks, err := meter.Int64Counter(
		"snapkeep.daemon.ticks",
		metric.WithDescription("Number of scheduled runs by status"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	tickDuration, err := meter.Float64Histogram(
		"snapkeep.daemon.tick.duration",
		metric.WithDescription("Duration of scheduled runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	lastSuccess, err := meter.Int64Gauge(
		"snapkeep.daemon.last_success",
		metric.WithDescription("Unix time of the last run that completed without failures"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		ticks:        ticks,
		tickDuration: tickDuration,
		lastSuccess:  lastSuccess,
	}, nil
}

// RecordTick records a scheduled run with its status
func (m *DaemonMetrics) RecordTick(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ticks.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, duration.Seconds(), attrs)
	if status == StatusOK {
		m.lastSuccess.Record(ctx, time.Now().Unix())
	}
}
