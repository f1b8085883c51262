// Package tracing sets up OpenTelemetry tracing for the dispatcher process
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// TracingConfig holds configuration for tracing setup
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port only, the exporter adds the path
	Insecure       bool
	SampleRatio    float64
}

// DefaultConfig returns a configuration for a local collector
func DefaultConfig(serviceName string) TracingConfig {
	return TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "127.0.0.1:4318",
		Insecure:       true,
		SampleRatio:    1.0,
	}
}

// sampler picks the sampler for ratio. Child spans follow their parent.
func sampler(ratio float64) trace.Sampler {
	switch {
	case ratio >= 1:
		return trace.ParentBased(trace.AlwaysSample())
	case ratio <= 0:
		return trace.ParentBased(trace.NeverSample())
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}

// SetupTracing installs a global tracer provider exporting over OTLP HTTP.
// An empty endpoint leaves the global no-op provider in place and returns a
// no-op shutdown; the propagator is installed either way.
func SetupTracing(ctx context.Context, config TracingConfig, logger *zap.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if config.OTLPEndpoint == "" {
		logger.Info("Tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	logger.Info("Setting up tracing",
		zap.String("service_name", config.ServiceName),
		zap.String("otlp_endpoint", config.OTLPEndpoint),
		zap.String("environment", config.Environment),
		zap.Float64("sample_ratio", config.SampleRatio))

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", zap.Error(err))
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		logger.Error("Failed to create resource", zap.Error(err))
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(config.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Tracing setup completed successfully")
	return tp.Shutdown, nil
}

// ShutdownTracing gives shutdown ten seconds to flush pending spans
func ShutdownTracing(shutdown ShutdownFunc, logger *zap.Logger) error {
	if shutdown == nil {
		return nil
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown tracing", zap.Error(err))
		return err
	}
	logger.Info("Tracing shutdown completed successfully")
	return nil
}
