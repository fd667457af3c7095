package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunSpan wraps the span covering one retention run
type RunSpan struct {
	span trace.Span
}

// StartRun starts the root span for a run
func StartRun(ctx context.Context, tracer trace.Tracer, runID, provider string, dryRun bool) (context.Context, *RunSpan) {
	ctx, span := tracer.Start(ctx, "snapkeep.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("provider", provider),
			attribute.Bool("dry_run", dryRun),
		),
	)
	return ctx, &RunSpan{span: span}
}

// SetInstanceCount records how many instances were enumerated
func (r *RunSpan) SetInstanceCount(n int) {
	r.span.SetAttributes(attribute.Int("instances.total", n))
}

// SetTotals records the run summary
func (r *RunSpan) SetTotals(created, evicted, failed int) {
	r.span.SetAttributes(
		attribute.Int("snapshots.created", created),
		attribute.Int("snapshots.evicted", evicted),
		attribute.Int("instances.failed", failed),
	)
}

// Fail marks the run as failed
func (r *RunSpan) Fail(err error) {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
}

// End ends the run span
func (r *RunSpan) End() {
	r.span.End()
}

// RotationSpan wraps the span covering one instance
type RotationSpan struct {
	span trace.Span
}

// StartRotation starts a child span for one instance
func StartRotation(ctx context.Context, tracer trace.Tracer, instanceID string, limit int) (context.Context, *RotationSpan) {
	ctx, span := tracer.Start(ctx, "snapkeep.rotate",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.Int("limit", limit),
		),
	)
	return ctx, &RotationSpan{span: span}
}

// RecordAction adds an event per planned or executed action
func (r *RotationSpan) RecordAction(kind, target string, executed bool) {
	r.span.AddEvent("snapkeep.action", trace.WithAttributes(
		attribute.String("action.kind", kind),
		attribute.String("action.target", target),
		attribute.Bool("action.executed", executed),
	))
}

// Finish sets the outcome and ends the span
func (r *RotationSpan) Finish(outcome string, err error) {
	r.span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()
}
