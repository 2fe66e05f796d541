package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fitcoach"

// StartHandleMessageSpan starts the root span for one coaching turn.
func StartHandleMessageSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "coach.handle_message",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
}

// StartSpecialistSpan starts a span around one specialist generation.
func StartSpecialistSpan(ctx context.Context, category string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "specialist.invoke",
		trace.WithAttributes(attribute.String("coaching.category", category)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func StartDecideSpan(ctx context.Context, requestID, trainerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.decide",
		trace.WithAttributes(
			attribute.String("approval.id", requestID),
			attribute.String("trainer.id", trainerID),
		),
	)
}

func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval.sweep")
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
