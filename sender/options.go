package sender

import (
	"errors"
	"time"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetry sets the retry executor. Default: resilience.DefaultRetryConfig().
func WithRetry(r *resilience.Retry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.retry = r
		}
	}
}

// WithRetryConfig builds the retry executor from cfg.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return WithRetry(resilience.NewRetry(cfg))
}

// WithGuard sets the per-call guard (timeout, rate limit, bulkhead).
func WithGuard(g *resilience.Guard) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.guard = g
		}
	}
}

// WithKeyer overrides idempotency key derivation.
func WithKeyer(k idempotency.Keyer) Option {
	return func(c *Coordinator) {
		if k != nil {
			c.keyer = k
		}
	}
}

// WithCountFailure decides which failed sends count against the breaker.
// Default: CountAllFailures.
func WithCountFailure(fn func(error) bool) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.countFailure = fn
		}
	}
}

// WithObserver wires tracing, metrics and logging from obs.
func WithObserver(obs observe.Observer) Option {
	return func(c *Coordinator) {
		c.tracer = observe.NewTracer(obs.Tracer())
		c.metrics = obs.Metrics()
		c.logger = obs.Logger()
	}
}

// WithTracer sets the tracer.
func WithTracer(t observe.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// CountAllFailures counts every failed send against the breaker.
func CountAllFailures(error) bool { return true }

// CountProviderFailures counts only failures that point at provider health:
// retryable codes and authentication errors. Rejected recipients and
// content say nothing about whether the provider is up.
func CountProviderFailures(err error) bool {
	if errors.Is(err, resilience.ErrRetriesExhausted) {
		return true
	}
	code := resilience.CodeOf(err)
	return code.Retryable() || code == resilience.CodeAuthentication
}
