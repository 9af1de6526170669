package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName          = "simple-assets"
	instrumentationScope = "github.com/tendant/simple-assets"
)

// setupMetrics installs an OTLP meter provider when an endpoint is configured.
// Without one the global no-op provider stays in place.
func setupMetrics(ctx context.Context, env ServerEnv, environment string) (metric.Meter, func(context.Context) error, error) {
	noShutdown := func(context.Context) error { return nil }
	if env.OTLPEndpoint == "" {
		return otel.Meter(instrumentationScope), noShutdown, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, noShutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(env.OTLPEndpoint)}
	if env.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, noShutdown, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(env.MetricsInterval),
		)),
	)
	otel.SetMeterProvider(provider)

	return provider.Meter(instrumentationScope), provider.Shutdown, nil
}
