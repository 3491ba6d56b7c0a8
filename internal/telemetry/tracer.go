// Package telemetry wires OpenTelemetry tracing.
//
// Tracing is explicit: callers get a TracerProvider and pass it to the
// components that emit spans. Nothing is registered globally. With no
// endpoint configured the provider is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer used by this module.
const InstrumentationName = "fertiscan"

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(context.Context) error

// NewTracerProvider returns a provider exporting to the OTLP/HTTP endpoint,
// for example http://localhost:6006/v1/traces. An empty endpoint yields a
// no-op provider.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (trace.TracerProvider, ShutdownFunc, error) {
	if endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	resource := sdkresource.NewSchemaless(attribute.String("service.name", serviceName))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(resource),
	)

	return provider, provider.Shutdown, nil
}

// Tracer returns the module tracer of provider, falling back to a no-op
// tracer when provider is nil.
func Tracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return provider.Tracer(InstrumentationName)
}
