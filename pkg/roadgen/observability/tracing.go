package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the engine tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("roadgen")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for an entire generation run.
	StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span)

	// StartNodeSpan starts a span for a node execution.
	// The node span should be a child of the run span.
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)

	// StartRemoteCallSpan starts a span for an outbound model call.
	StartRemoteCallSpan(ctx context.Context, op, unitID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartRunSpan starts a span for the entire generation run.
func (m *otelSpanManager) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "roadgen.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartNodeSpan starts a span for a node execution.
func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "roadgen.node."+nodeID,
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRemoteCallSpan starts a span for one outbound model call.
func (m *otelSpanManager) StartRemoteCallSpan(ctx context.Context, op, unitID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "roadgen.remote."+op,
		trace.WithAttributes(
			attribute.String("remote.op", op),
			attribute.String("unit.id", unitID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
