package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "contextforge"

// StartTurnSpan starts a span for one conversation turn.
func StartTurnSpan(ctx context.Context, contextID, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("context.id", contextID),
			attribute.String("model", model),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a turn.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartModelStreamSpan starts a span for one streaming model request.
func StartModelStreamSpan(ctx context.Context, contextID, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model_stream",
		trace.WithAttributes(
			attribute.String("context.id", contextID),
			attribute.String("model", model),
		),
	)
}
