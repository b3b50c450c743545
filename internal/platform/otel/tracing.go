package otel

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Config identifies this deployment on every exported span.
type Config struct {
	ServiceName string
	Environment string
	Writer      io.Writer
}

// InitTracer sets up the OpenTelemetry tracer provider with a stdout span
// exporter and installs it globally. Returns a shutdown function to call on
// application exit.
func InitTracer(cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Writer),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	// Fresh resource rather than merging with Default() to avoid schema
	// version conflicts across semconv releases.
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("service.component", "orchestrator"),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
	)

	return tp.Shutdown, nil
}
