// Package telemetry wires OpenTelemetry for rl serve. It is off unless
// telemetry.enabled is set; the store then records against no-op providers.
//
//	telemetry:
//	  enabled: true
//	  stdout: true               # spans and metrics to stderr
//	  endpoint: localhost:4318   # OTLP/HTTP metrics; falls back to OTEL_EXPORTER_OTLP_*
//	  interval: 30s
package telemetry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/steveyegge/redline"

// Options selects exporters.
type Options struct {
	Enabled  bool
	Stdout   bool
	Endpoint string
	Interval time.Duration

	// Writer receives stdout exports. Defaults to os.Stderr so JSON output
	// on stdout stays clean.
	Writer io.Writer
}

var shutdownFns []func(context.Context) error

// Init installs global providers for service. Disabled options install no-op
// providers.
func Init(ctx context.Context, service, version string, opts Options) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	opts.Endpoint = cmp.Or(opts.Endpoint,
		os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	if opts.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
		if err != nil {
			return fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		shutdownFns = append(shutdownFns, tp.Shutdown)
	}

	readers, err := metricReaders(ctx, opts)
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return errors.New("telemetry: enabled with no exporter (set telemetry.stdout or telemetry.endpoint)")
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mopts = append(mopts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

func metricReaders(ctx context.Context, opts Options) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if opts.Stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.Interval)))
	}
	if opts.Endpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, opts.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.Interval)))
	}
	return readers, nil
}

// Tracer returns a tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(cmp.Or(name, instrumentationScope))
}

// Meter returns a meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(cmp.Or(name, instrumentationScope))
}

// Shutdown flushes and stops whatever Init started.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
