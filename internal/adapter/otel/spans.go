package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenantd"

// StartProvisionSpan starts a span for a tenant create sequence.
func StartProvisionSpan(ctx context.Context, siteName string, frontend bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision",
		trace.WithAttributes(
			attribute.String("tenant.site_name", siteName),
			attribute.Bool("tenant.frontend", frontend),
		),
	)
}

// StartTeardownSpan starts a span for a tenant delete sequence.
func StartTeardownSpan(ctx context.Context, siteName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "teardown",
		trace.WithAttributes(
			attribute.String("tenant.site_name", siteName),
		),
	)
}
