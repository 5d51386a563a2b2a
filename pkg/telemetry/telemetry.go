package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(context.Context) error

// Config selects where spans and metrics go.
type Config struct {
	// Exporter is "none", "stdout" or "otlp". Empty means none.
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPTimeout  time.Duration
	// SampleRatio is the fraction of new traces kept. Values outside (0, 1)
	// keep everything.
	SampleRatio float64
	// MetricInterval is the export period. Defaults to one minute.
	MetricInterval time.Duration
	// Output receives stdout exporter data. Defaults to os.Stderr.
	Output io.Writer
}

type exporterPair struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Exporter
}

type exporterFactory func(ctx context.Context, cfg Config) (exporterPair, error)

var exporterFactories = map[string]exporterFactory{
	"stdout": stdoutExporters,
	"otlp":   otlpExporters,
}

// Exporters lists the exporter names InitWithConfig accepts besides "none".
func Exporters() []string {
	names := make([]string, 0, len(exporterFactories))
	for name := range exporterFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func noopShutdown(context.Context) error { return nil }

// InitWithConfig installs global tracer and meter providers for the service.
// The W3C propagators are always installed; with no exporter the global
// providers stay no-op.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return noopShutdown, nil
	}
	factory, ok := exporterFactories[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp.spans, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp.metrics, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func stdoutExporters(_ context.Context, cfg Config) (exporterPair, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	spans, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return exporterPair{}, fmt.Errorf("stdout span exporter: %w", err)
	}
	metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return exporterPair{}, fmt.Errorf("stdout metric exporter: %w", err)
	}
	return exporterPair{spans: spans, metrics: metrics}, nil
}

func otlpExporters(ctx context.Context, cfg Config) (exporterPair, error) {
	if cfg.OTLPEndpoint == "" {
		return exporterPair{}, errors.New("otlp exporter needs an endpoint")
	}
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	if cfg.OTLPTimeout > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithTimeout(cfg.OTLPTimeout))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithTimeout(cfg.OTLPTimeout))
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return exporterPair{}, fmt.Errorf("otlp span exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return exporterPair{}, fmt.Errorf("otlp metric exporter: %w", err)
	}
	return exporterPair{spans: spans, metrics: metrics}, nil
}
