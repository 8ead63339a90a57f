// Package tracing bootstraps the OpenTelemetry SDK clockpipe exports
// spans through. Init installs the global provider that the
// postgres.peek, mongodb.peek, cdc.message and clickhouse.post spans are
// started from via otel.Tracer; Tracer itself is used by the demo
// generator. The sync loop (internal/syncloop) starts no spans.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/myyrakle/clockpipe/internal/logging"
)

var Tracer trace.Tracer
var traceProvider *sdktrace.TracerProvider

// Init wires the global tracer provider to an OTLP/HTTP exporter,
// tagging every span with the running component's service name (e.g.
// "clockpipe", "clockpipe-legacy-ingest") plus the deployment
// environment when CLOCKPIPE_ENV is set, so a single collector can
// separate the primary CDC pipeline from the demo generator and the
// legacy Kafka ingestion path.
func Init(serviceName string) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logging.Error(ctx, "tracing: failed to create OTLP exporter: %v", err)
		return
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if env := os.Getenv("CLOCKPIPE_ENV"); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	traceProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(traceProvider)
	Tracer = traceProvider.Tracer(serviceName)

	logging.Info(ctx, "tracing: initialized service=%s endpoint=%s", serviceName, endpoint)
}

// Shutdown flushes any spans still buffered in the batcher and closes the
// exporter. Callers defer this immediately after Init.
func Shutdown(ctx context.Context) {
	if traceProvider == nil {
		return
	}
	if err := traceProvider.Shutdown(ctx); err != nil {
		logging.Error(ctx, "tracing: shutdown failed: %v", err)
	}
}
