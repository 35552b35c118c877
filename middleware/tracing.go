package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stage"
)

// tracerName is the instrumentation scope name for orderflow tracing.
const tracerName = "github.com/tidemark/orderflow"

// Tracing returns middleware that wraps stage execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: orderflow.order.id, orderflow.stage,
// orderflow.order.status, orderflow.attempt. On failure, the span status
// is set to codes.Error with the result detail.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, o *order.Order, stageName string, next Handler) stage.Result {
		ctx, span := tracer.Start(ctx, "orderflow.stage.execute",
			trace.WithAttributes(
				attribute.String("orderflow.order.id", o.ID.String()),
				attribute.String("orderflow.stage", stageName),
				attribute.String("orderflow.order.status", string(o.Status)),
				attribute.Int("orderflow.attempt", o.AttemptCount(stageName)+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res := next(ctx)
		if res.Status == stage.StatusSuccess {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, res.Detail)
			span.SetAttributes(attribute.String("orderflow.outcome", string(res.Status)))
		}

		return res
	}
}
