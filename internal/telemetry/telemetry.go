// Package telemetry provides thin OpenTelemetry helpers for the pipeline.
// The service does not wire an SDK here; when the host process installs a
// global tracer provider, these spans flow to it, otherwise they are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/agentlens"

// Tracer returns the pipeline's tracer.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
