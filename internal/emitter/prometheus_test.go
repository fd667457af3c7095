package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/rotation"
	"github.com/yairfalse/snapkeep/types"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func report(snapshotsBefore int, created bool) *orchestrator.RunReport {
	res := rotation.Result{
		InstanceID:      "i-1",
		Instance:        &types.Instance{ID: "i-1", Label: "web"},
		Limit:           4,
		SnapshotsBefore: snapshotsBefore,
		State:           rotation.StateDone,
	}
	if created {
		res.Created = &types.Snapshot{ID: "s-new"}
	}
	return &orchestrator.RunReport{Provider: "memory", Results: []rotation.Result{res}}
}

func TestPrometheusEmitter_Gauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewPrometheusEmitter(provider.Meter("test"))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Notify(context.Background(), report(1, true)))

	metrics := collect(t, reader)
	gauge, ok := metrics["snapkeep.instance.snapshots"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	id, ok := gauge.DataPoints[0].Attributes.Value(attribute.Key("instance_id"))
	require.True(t, ok)
	assert.Equal(t, "i-1", id.AsString())

	limit, ok := metrics["snapkeep.instance.limit"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, limit.DataPoints, 1)
	assert.Equal(t, int64(4), limit.DataPoints[0].Value)

	_, counted := metrics["snapkeep.instance.changes"]
	assert.False(t, counted, "first run establishes the baseline")
}

func TestPrometheusEmitter_CountsChanges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewPrometheusEmitter(provider.Meter("test"))
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.Notify(ctx, report(1, true)))
	require.NoError(t, e.Notify(ctx, report(2, true)))

	metrics := collect(t, reader)
	sum, ok := metrics["snapkeep.instance.changes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestPrometheusEmitter_IgnoresDryRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e, err := NewPrometheusEmitter(provider.Meter("test"))
	require.NoError(t, err)
	defer e.Close()

	dry := report(1, false)
	dry.DryRun = true
	require.NoError(t, e.Notify(context.Background(), dry))
	require.NoError(t, e.Notify(context.Background(), nil))

	assert.Empty(t, e.diffTracker.Snapshot())
}
