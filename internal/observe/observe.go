// Package observe wires OpenTelemetry tracing and metrics for the service.
package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ashureev/smartrecall/internal/observe/exporters"
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName string
	Version     string
	// TracesExporter is otlp, stdout or none.
	TracesExporter string
	// MetricsExporter is otlp, prometheus, stdout or none.
	MetricsExporter string
	// SampleRatio is the trace sampling ratio in [0, 1].
	SampleRatio float64
}

var (
	validTracesExporters  = map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	validMetricsExporters = map[string]bool{"otlp": true, "prometheus": true, "stdout": true, "none": true, "": true}
)

// Validate checks exporter names and the sample ratio.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("observe: service name is required")
	}
	if !validTracesExporters[c.TracesExporter] {
		return fmt.Errorf("observe: unknown traces exporter %q", c.TracesExporter)
	}
	if !validMetricsExporters[c.MetricsExporter] {
		return fmt.Errorf("observe: unknown metrics exporter %q", c.MetricsExporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("observe: sample ratio must be between 0 and 1, got %f", c.SampleRatio)
	}
	return nil
}

// PrometheusEnabled reports whether /metrics should be served.
func (c Config) PrometheusEnabled() bool {
	return c.MetricsExporter == "prometheus"
}

// Observer owns the tracer and meter providers.
type Observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}

// New sets up the providers named by cfg and installs them globally.
// Disabled signals get no-op implementations.
func New(ctx context.Context, cfg Config) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	obs := &Observer{
		tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:  metricnoop.NewMeterProvider().Meter(cfg.ServiceName),
	}

	if enabled(cfg.TracesExporter) {
		exp, err := exporters.NewTracingExporter(ctx, cfg.TracesExporter)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		var sampler sdktrace.Sampler
		switch {
		case cfg.SampleRatio >= 1:
			sampler = sdktrace.AlwaysSample()
		case cfg.SampleRatio <= 0:
			sampler = sdktrace.NeverSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
			sdktrace.WithBatcher(exp),
		)
		otel.SetTracerProvider(tp)
		obs.tracerProvider = tp
		obs.tracer = tp.Tracer(cfg.ServiceName)
	}

	if enabled(cfg.MetricsExporter) {
		reader, err := exporters.NewMetricsReader(ctx, cfg.MetricsExporter)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("setup metrics: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
		otel.SetMeterProvider(mp)
		obs.meterProvider = mp
		obs.meter = mp.Meter(cfg.ServiceName)
	}

	return obs, nil
}

// Noop returns an Observer that records nothing.
func Noop() *Observer {
	return &Observer{
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
		meter:  metricnoop.NewMeterProvider().Meter("noop"),
	}
}

// Tracer returns the configured tracer.
func (o *Observer) Tracer() trace.Tracer { return o.tracer }

// Meter returns the configured meter.
func (o *Observer) Meter() metric.Meter { return o.meter }

// Shutdown flushes and stops the providers.
func (o *Observer) Shutdown(ctx context.Context) error {
	var errs []error
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
