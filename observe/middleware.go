package observe

import (
	"context"
	"time"
)

// SendFunc performs one transport attempt and returns the provider's
// message id.
type SendFunc func(ctx context.Context, meta SendMeta) (string, error)

// CodeFunc classifies an error into the label used for metrics. A nil
// error is labeled "ok" before CodeFunc is consulted.
type CodeFunc func(err error) string

// Middleware wraps transport attempts with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe SendFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	code    CodeFunc
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger, code CodeFunc) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if code == nil {
		code = func(error) string { return "error" }
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		code:    code,
	}
}

// Wrap wraps a SendFunc with a send.transport span, metrics and logging.
func (m *Middleware) Wrap(fn SendFunc) SendFunc {
	return func(ctx context.Context, meta SendMeta) (string, error) {
		ctx, span := m.tracer.StartSpan(ctx, SpanTransport, meta)

		start := time.Now()
		messageID, err := fn(ctx, meta)
		duration := time.Since(start)

		m.tracer.EndSpan(span, err)

		code := "ok"
		if err != nil {
			code = m.code(err)
		}
		m.metrics.RecordTransportCall(ctx, meta, duration, code)

		fields := []Field{
			{Key: "attempt", Value: meta.Attempt},
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		log := m.logger.WithSend(meta)
		if err != nil {
			fields = append(fields,
				Field{Key: "code", Value: code},
				Field{Key: "error", Value: err.Error()},
			)
			log.Warn(ctx, "transport attempt failed", fields...)
		} else {
			fields = append(fields, Field{Key: "message_id", Value: messageID})
			log.Debug(ctx, "transport attempt succeeded", fields...)
		}

		return messageID, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer, code CodeFunc) *Middleware {
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Metrics(), obs.Logger(), code)
}
