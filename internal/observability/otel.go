// Package observability wires the process-wide OpenTelemetry trace provider
// that internal/jobqueue and internal/orchestrator's tracers attach spans
// to. Grounded on the teacher pack's adhtanjung-maukmn-api-alpha
// InitOTel: stdout export gated by an env var so a bare `go run` stays
// quiet, with a real OTLP exporter available once an operator points
// CURATOR_OTEL_ENDPOINT at a collector.
package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init configures the global trace provider for serviceName and returns a
// shutdown func to flush pending spans. When CURATOR_OTEL_ENDPOINT is unset
// and CURATOR_OTEL_LOGS isn't "true", no provider is installed: otel's
// global no-op tracer stays in place, so spans are neither recorded nor
// exported, matching otel's own recommended no-op-by-default posture.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	endpoint := os.Getenv("CURATOR_OTEL_ENDPOINT")
	switch {
	case endpoint != "":
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint))
		if err != nil {
			return nil, fmt.Errorf("observability: new otlp exporter: %w", err)
		}
	case os.Getenv("CURATOR_OTEL_LOGS") == "true":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("observability: new stdout exporter: %w", err)
		}
	default:
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewWithAttributes("", attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
