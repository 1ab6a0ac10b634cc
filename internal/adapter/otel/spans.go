package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dashboard-worker"

// StartRefreshSpan starts a span for one materialized view refresh action.
func StartRefreshSpan(ctx context.Context, action, trigger string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "refresh",
		trace.WithAttributes(
			attribute.String("refresh.action", action),
			attribute.String("refresh.trigger", trigger),
		),
	)
}

// StartQuerySpan starts a span for a cached dashboard read.
func StartQuerySpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "query",
		trace.WithAttributes(attribute.String("query.endpoint", endpoint)),
	)
}
