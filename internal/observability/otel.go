// Package observability provides OpenTelemetry tracing setup.
//
// Spans are exported over OTLP HTTP to whatever collector the endpoint
// points at (an otel-collector sidecar, Jaeger's OTLP receiver, a
// vendor agent). An empty endpoint disables export entirely; the
// engine's otel.Tracer calls then produce no-op spans at near-zero
// cost, so instrumentation never needs to be conditional.
//
// Configuration (~/.recall/config.yaml or environment):
//
//	otlp_endpoint: "localhost:4318"   # or RECALL_OTLP_ENDPOINT
//	service_name:  "recall"
//	environment:   "dev"
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector host:port. Empty disables export.
	Endpoint string
	// ServiceName tags every span (service.name resource attribute).
	ServiceName string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
}

// Setup installs a global TracerProvider exporting to cfg.Endpoint.
//
// Returns a shutdown function that flushes pending spans; callers should
// invoke it before exit. With an empty endpoint, no provider is
// installed and the shutdown function is a no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		logger.Debug("otlp endpoint not configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return provider.Shutdown, nil
}
