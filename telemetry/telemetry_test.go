package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTELHook_Run(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")

	tests := []struct {
		name        string
		ctx         context.Context
		expectTrace bool
	}{
		{name: "context without span", ctx: context.Background(), expectTrace: false},
		{name: "context with span", ctx: ctx, expectTrace: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Hook(OTELHook{})
			logger.Info().Ctx(tt.ctx).Msg("hello")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			_, hasTrace := entry["trace_id"]
			_, hasSpan := entry["span_id"]
			assert.Equal(t, tt.expectTrace, hasTrace)
			assert.Equal(t, tt.expectTrace, hasSpan)
		})
	}
	span.End()
}

func TestNewLogger_WritesStoreAndConsole(t *testing.T) {
	var store, console bytes.Buffer
	logger := NewLogger("snapkeep", LoggerOptions{
		Store:         &store,
		Console:       true,
		ConsoleWriter: &console,
		Level:         "info",
	})

	logger.Info().Str("instance_id", "i1").Msg("rotated")
	logger.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(store.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "snapkeep", entry["service"])
	assert.Equal(t, "i1", entry["instance_id"])
	assert.Equal(t, "rotated", entry["message"])
	assert.NotEmpty(t, entry["time"])

	assert.Contains(t, console.String(), "rotated")
	assert.NotContains(t, console.String(), "hidden")
}

func TestNewLogger_StoreOnly(t *testing.T) {
	var store bytes.Buffer
	logger := NewLogger("snapkeep", LoggerOptions{Store: &store, Level: "debug"})

	logger.Debug().Msg("visible")
	assert.Contains(t, store.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestLogger_LogSpanEnd(t *testing.T) {
	var store bytes.Buffer
	logger := NewLogger("snapkeep", LoggerOptions{Store: &store, Level: "debug"})

	logger.LogSpanEnd(context.Background(), "rotate", errors.New("boom"))
	assert.Contains(t, store.String(), `"level":"error"`)
	assert.Contains(t, store.String(), "boom")
}

func TestLogger_LogIgnoredOverrides(t *testing.T) {
	var store bytes.Buffer
	logger := NewLogger("snapkeep", LoggerOptions{Store: &store, Level: "info"})

	logger.LogIgnoredOverrides(context.Background(), "/etc/snapkeep/overrides", []int{3}, []int{5, 7})

	lines := strings.Split(strings.TrimSpace(store.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[0], `"line":3`)
	assert.Contains(t, lines[0], "override line skipped")
	assert.Contains(t, lines[1], `"line":5`)
	assert.Contains(t, lines[2], `"line":7`)
	assert.Contains(t, lines[2], "duplicate override ignored")
	assert.Contains(t, lines[2], `"file":"/etc/snapkeep/overrides"`)

	store.Reset()
	logger.LogIgnoredOverrides(context.Background(), "", nil, nil)
	assert.Empty(t, store.String())
}

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

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum for %s", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordRotation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRotation(ctx, "evicted+created", 1, 1, false)
	m.RecordRotation(ctx, "create-only", 0, 1, false)
	m.RecordRotation(ctx, "evicted+created", 1, 1, true)
	m.RecordRun(ctx, RunStatusOK, false, 2*time.Second)
	m.RecordLockContention(ctx, "file:/tmp/lock")

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(t, metrics["snapkeep.rotations"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["snapkeep.snapshots.evicted"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["snapkeep.snapshots.created"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["snapkeep.runs"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["snapkeep.lock.contention"]))

	hist, ok := metrics["snapkeep.run.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 2.0, hist.DataPoints[0].Sum)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun(context.Background(), RunStatusFailed, false, time.Second)
		m.RecordRotation(context.Background(), "failed", 0, 0, false)
		m.RecordLockContention(context.Background(), "x")
	})
}

func TestTraces_RunAndRotation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := tp.Tracer("test")

	ctx, run := StartRun(context.Background(), tracer, "run-1", "memory", true)
	run.SetInstanceCount(2)

	_, rot := StartRotation(ctx, tracer, "i1", 4)
	rot.RecordAction("delete", "old-0", false)
	rot.Finish("evicted+created", nil)

	_, rot = StartRotation(ctx, tracer, "i2", 3)
	rot.Finish("failed", errors.New("create failed"))

	run.SetTotals(1, 1, 1)
	run.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "snapkeep.rotate", spans[0].Name)
	assert.Len(t, spans[0].Events, 1)
	assert.Equal(t, "snapkeep.run", spans[2].Name)
	assert.Equal(t, spans[2].SpanContext.TraceID(), spans[0].SpanContext.TraceID())
	assert.Len(t, spans[1].Events, 1, "error recorded as event")
}

func TestNewProvider_PrometheusOnly(t *testing.T) {
	ctx := context.Background()
	p, err := NewProvider(ctx, Config{ServiceName: "snapkeep-test"})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(ctx) }()

	m, err := NewMetrics(p.Meter())
	require.NoError(t, err)
	m.RecordRun(ctx, RunStatusOK, false, time.Second)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "snapkeep")

	_, span := p.Tracer().Start(ctx, "noop")
	span.End()
}
