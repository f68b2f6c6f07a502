package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/sendguard/observe/exporters"
)

// Config selects the telemetry backends for one process.
type Config struct {
	ServiceName string
	Version     string

	Tracing TracingConfig
	Metrics MetricsConfig
	Logging LoggingConfig

	// SetGlobal installs the tracer and meter providers as the otel globals.
	// Only the composition root should set it.
	SetGlobal bool
}

// TracingConfig configures spans around sends and transport attempts.
type TracingConfig struct {
	Enabled bool
	// Exporter is one of otlp, jaeger, stdout or none.
	Exporter string
	// SamplePct is the sampled fraction of traces, in [0, 1].
	SamplePct float64
}

// MetricsConfig configures the send instruments.
type MetricsConfig struct {
	Enabled bool
	// Exporter is one of otlp, prometheus, stdout or none.
	Exporter string

	// Registerer receives the prometheus collector. Nil means the default
	// prometheus registerer.
	Registerer prometheus.Registerer
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Enabled bool
	// Level is one of debug, info, warn or error.
	Level string

	// Output defaults to stderr.
	Output io.Writer
}

var (
	tracingExporters = []string{"", "none", "stdout", "otlp", "jaeger"}
	metricsExporters = []string{"", "none", "stdout", "otlp", "prometheus"}
	logLevels        = []string{"", "debug", "info", "warn", "error"}
)

// Validate reports the first problem with c. Disabled sections are not
// checked.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	checks := []struct {
		enabled bool
		ok      bool
		err     error
		value   any
	}{
		{c.Tracing.Enabled, slices.Contains(tracingExporters, c.Tracing.Exporter), ErrInvalidTracingExporter, c.Tracing.Exporter},
		{c.Tracing.Enabled, c.Tracing.SamplePct >= MinSamplePct && c.Tracing.SamplePct <= MaxSamplePct, ErrInvalidSamplePct, c.Tracing.SamplePct},
		{c.Metrics.Enabled, slices.Contains(metricsExporters, c.Metrics.Exporter), ErrInvalidMetricsExporter, c.Metrics.Exporter},
		{c.Logging.Enabled, slices.Contains(logLevels, c.Logging.Level), ErrInvalidLogLevel, c.Logging.Level},
	}
	for _, chk := range checks {
		if chk.enabled && !chk.ok {
			return fmt.Errorf("%w: %v", chk.err, chk.value)
		}
	}
	return nil
}

// Observer hands out the telemetry primitives used by the coordinator and
// the stores. It is safe for concurrent use. Shutdown flushes exporters once;
// later calls return the first result.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger
	// Metrics returns the send instruments built on Meter.
	Metrics() Metrics
	Shutdown(ctx context.Context) error
}

type observer struct {
	tracer  trace.Tracer
	meter   metric.Meter
	logger  Logger
	metrics Metrics

	flushers []func(context.Context) error
	once     sync.Once
	err      error
}

// NewObserver builds an Observer from cfg. Disabled sections get no-op
// implementations so callers never nil-check.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	o := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
		meter:  noop.NewMeterProvider().Meter("noop"),
		logger: NewNopLogger(),
	}

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		if cfg.SetGlobal {
			otel.SetTracerProvider(tp)
		}
		o.tracer = tp.Tracer(cfg.ServiceName)
		o.flushers = append(o.flushers, tp.Shutdown)
	}

	if cfg.Metrics.Enabled {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = o.Shutdown(ctx)
			return nil, err
		}
		if cfg.SetGlobal {
			otel.SetMeterProvider(mp)
		}
		o.meter = mp.Meter(cfg.ServiceName)
		o.flushers = append(o.flushers, mp.Shutdown)
	}

	if o.metrics, err = NewMetrics(o.meter); err != nil {
		_ = o.Shutdown(ctx)
		return nil, fmt.Errorf("observe: instruments: %w", err)
	}

	if cfg.Logging.Enabled {
		out := cfg.Logging.Output
		if out == nil {
			out = os.Stderr
		}
		o.logger = NewLoggerWithWriter(cfg.Logging.Level, out)
	}
	return o, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter)
	if err != nil {
		return nil, fmt.Errorf("observe: trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.Tracing.SamplePct)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func samplerFor(pct float64) sdktrace.Sampler {
	switch {
	case pct >= 1:
		return sdktrace.AlwaysSample()
	case pct <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(pct)
	}
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter,
		exporters.WithRegisterer(cfg.Metrics.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: metrics reader: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }
func (o *observer) Metrics() Metrics     { return o.metrics }

func (o *observer) Shutdown(ctx context.Context) error {
	o.once.Do(func() {
		var errs []error
		for _, flush := range o.flushers {
			if err := flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			o.err = fmt.Errorf("observe: shutdown: %w", errors.Join(errs...))
		}
	})
	return o.err
}
