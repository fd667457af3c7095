package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// LoggerOptions controls where log events go
type LoggerOptions struct {
	// Store receives JSON records. Usually a logstore.Store.
	Store io.Writer
	// Console writes human readable lines to stderr when set
	Console bool
	// ConsoleWriter overrides stderr, mainly for tests
	ConsoleWriter io.Writer
	Level         string
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger that fans out to the store and the console
func NewLogger(service string, opts LoggerOptions) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var writers []io.Writer
	if opts.Store != nil {
		writers = append(writers, opts.Store)
	}
	if opts.Console {
		out := opts.ConsoleWriter
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	var sink io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		sink = writers[0]
	default:
		sink = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(sink).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewNopLogger discards everything
func NewNopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// ParseLevel maps a config level to zerolog, defaulting to info
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for run events

func (l *Logger) LogCompaction(ctx context.Context, removed, maxEntries int) {
	l.WithContext(ctx).Info().
		Int("removed", removed).
		Int("max_entries", maxEntries).
		Str("operation", "compaction").
		Msg("log compacted")
}

func (l *Logger) LogLockConflict(ctx context.Context, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", "lock").
		Msg("another run is in progress")
}

func (l *Logger) LogRunStart(ctx context.Context, runID string, instances int, dryRun bool) {
	l.WithContext(ctx).Info().
		Str("run_id", runID).
		Int("instances", instances).
		Bool("dry_run", dryRun).
		Msg("run started")
}

// LogIgnoredOverrides warns once per override line that was not applied
func (l *Logger) LogIgnoredOverrides(ctx context.Context, path string, skipped, duplicates []int) {
	for _, line := range skipped {
		l.WithContext(ctx).Warn().
			Str("file", path).
			Int("line", line).
			Str("operation", "overrides").
			Msg("override line skipped: expected <instance-id>:<limit>")
	}
	for _, line := range duplicates {
		l.WithContext(ctx).Warn().
			Str("file", path).
			Int("line", line).
			Str("operation", "overrides").
			Msg("duplicate override ignored, first occurrence wins")
	}
}
