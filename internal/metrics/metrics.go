// Package metrics wires the global OTel meter provider used by every
// package's package-level instruments (see whc, rhc, and reliable).
// Those instruments register against the no-op global provider at
// import time; calling Init swaps in a real provider so they start
// forwarding without any package needing to know Init ran.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Exporter selects where metrics go.
type Exporter string

const (
	// ExporterNone leaves the global no-op provider in place.
	ExporterNone Exporter = "none"
	// ExporterStdout writes metrics as JSON to stdout, for local runs.
	ExporterStdout Exporter = "stdout"
	// ExporterOTLP ships metrics to an OTLP/HTTP collector.
	ExporterOTLP Exporter = "otlp"
)

// Init installs the global MeterProvider used by every package's
// instruments. The returned shutdown func flushes and closes the
// exporter; callers should defer it.
func Init(ctx context.Context, serviceName string, exp Exporter, otlpEndpoint string) (func(context.Context) error, error) {
	if exp == ExporterNone || exp == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	var reader metric.Reader
	switch exp {
	case ExporterStdout:
		stdoutExp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: create stdout exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(stdoutExp)
	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{}
		if otlpEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(otlpEndpoint))
		}
		otlpExp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("metrics: create otlp exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(otlpExp)
	default:
		return nil, fmt.Errorf("metrics: unknown exporter %q", exp)
	}

	provider := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
