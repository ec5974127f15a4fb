// Package otel provides OpenTelemetry instrumentation for tenantd.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Span export is wired up
// by the embedding deployment; without an exporter the spans are dropped.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
