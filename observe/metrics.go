package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricSendRequests       = "send.requests"
	MetricSendDuration       = "send.duration_ms"
	MetricSendAttempts       = "send.attempts"
	MetricTransportCalls     = "send.transport.calls"
	MetricTransportDuration  = "send.transport.duration_ms"
	MetricBookkeepingErrors  = "send.bookkeeping.errors"
	MetricCircuitTransitions = "circuit.transitions"
)

// Metrics records send metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordSend records one coordinator call. outcome is "success",
	// "replayed" or the error kind.
	RecordSend(ctx context.Context, meta SendMeta, outcome string, duration time.Duration, attempts int)

	// RecordTransportCall records a single transport attempt.
	RecordTransportCall(ctx context.Context, meta SendMeta, duration time.Duration, code string)

	// RecordBookkeepingError counts a failed post-send store or ledger write.
	RecordBookkeepingError(ctx context.Context, op string)

	// RecordCircuitTransition counts a breaker state change.
	RecordCircuitTransition(ctx context.Context, from, to string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	requests          metric.Int64Counter
	duration          metric.Float64Histogram
	attempts          metric.Int64Histogram
	transportCalls    metric.Int64Counter
	transportDuration metric.Float64Histogram
	bookkeeping       metric.Int64Counter
	transitions       metric.Int64Counter
}

// NewMetrics creates the send instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.requests, err = meter.Int64Counter(MetricSendRequests,
		metric.WithDescription("Logical send requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(MetricSendDuration,
		metric.WithDescription("End-to-end coordinator duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.attempts, err = meter.Int64Histogram(MetricSendAttempts,
		metric.WithDescription("Transport attempts consumed per logical send"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.transportCalls, err = meter.Int64Counter(MetricTransportCalls,
		metric.WithDescription("Transport calls by result code"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.transportDuration, err = meter.Float64Histogram(MetricTransportDuration,
		metric.WithDescription("Transport call duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.bookkeeping, err = meter.Int64Counter(MetricBookkeepingErrors,
		metric.WithDescription("Failed post-send bookkeeping writes"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(MetricCircuitTransitions,
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordSend(ctx context.Context, meta SendMeta, outcome string, duration time.Duration, attempts int) {
	opt := metric.WithAttributes(
		attribute.String("outcome", outcome),
	)
	m.requests.Add(ctx, 1, opt)
	m.duration.Record(ctx, float64(duration.Milliseconds()), opt)
	if attempts > 0 {
		m.attempts.Record(ctx, int64(attempts), opt)
	}
}

func (m *metricsImpl) RecordTransportCall(ctx context.Context, meta SendMeta, duration time.Duration, code string) {
	attrs := []attribute.KeyValue{attribute.String("code", code)}
	if meta.Transport != "" {
		attrs = append(attrs, attribute.String("transport", meta.Transport))
	}
	opt := metric.WithAttributes(attrs...)

	m.transportCalls.Add(ctx, 1, opt)
	m.transportDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordBookkeepingError(ctx context.Context, op string) {
	m.bookkeeping.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *metricsImpl) RecordCircuitTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RecordSend(context.Context, SendMeta, string, time.Duration, int)     {}
func (noopMetrics) RecordTransportCall(context.Context, SendMeta, time.Duration, string) {}
func (noopMetrics) RecordBookkeepingError(context.Context, string)                       {}
func (noopMetrics) RecordCircuitTransition(context.Context, string, string)              {}
