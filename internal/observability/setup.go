package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jo-hoe/reelcheck/internal/config"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Setup installs the OpenTelemetry SDK described by cfg as the global tracer
// and meter provider and returns Telemetry bound to it. When cfg is disabled
// a no-op Telemetry is returned.
func Setup(cfg config.ObservabilityConfig) (*Telemetry, ShutdownFunc, error) {
	if !cfg.Enabled {
		return NewNoop(), func(context.Context) error { return nil }, nil
	}
	var w io.Writer = os.Stdout
	if cfg.Exporter == "stderr" {
		w = os.Stderr
	}
	tel, tp, mp, err := newSDK(cfg, w)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return tel, shutdown(tp, mp), nil
}

// newSDK builds tracer and meter providers that export to w.
func newSDK(cfg config.ObservabilityConfig, w io.Writer) (*Telemetry, *sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	return New(tp, mp), tp, mp, nil
}

func shutdown(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) ShutdownFunc {
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
}
