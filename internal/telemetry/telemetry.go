// Package telemetry installs the OpenTelemetry tracer provider that carries
// the worker's command spans to an OTLP collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

// NewTracerProvider batches spans into exporter. sampleRatio applies to root
// spans; children follow their parent's decision.
func NewTracerProvider(res *resource.Resource, exporter sdktrace.SpanExporter, sampleRatio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
}

// Init exports spans over OTLP/gRPC and installs the provider globally. The
// exporter reads its endpoint and headers from the OTEL_EXPORTER_OTLP_*
// environment variables.
func Init(ctx context.Context, serviceName, version string, sampleRatio float64) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("telemetry.Init: resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Init: trace exporter: %w", err)
	}

	tp := NewTracerProvider(res, exporter, sampleRatio)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", serviceName).
		Str("version", version).
		Float64("sample_ratio", sampleRatio).
		Msg("tracing enabled")

	return tp.Shutdown, nil
}
