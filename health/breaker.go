package health

import (
	"context"
	"time"

	"github.com/jonwraymond/sendguard/resilience"
)

// BreakerChecker reports the provider circuit breaker.
type BreakerChecker struct {
	breaker    *resilience.CircuitBreaker
	openStatus Status
}

// BreakerOption configures a BreakerChecker.
type BreakerOption func(*BreakerChecker)

// WithOpenStatus sets the status reported while the circuit is open.
// Default: StatusDegraded.
func WithOpenStatus(s Status) BreakerOption {
	return func(c *BreakerChecker) {
		c.openStatus = s
	}
}

// NewBreakerChecker creates a checker over cb.
func NewBreakerChecker(cb *resilience.CircuitBreaker, opts ...BreakerOption) *BreakerChecker {
	c := &BreakerChecker{breaker: cb, openStatus: StatusDegraded}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of this checker.
func (c *BreakerChecker) Name() string {
	return "circuit"
}

// Check reads the breaker without triggering a probe transition.
func (c *BreakerChecker) Check(_ context.Context) Result {
	st := c.breaker.Status()
	details := map[string]any{
		"state":       st.State.String(),
		"failures":    st.Failures,
		"cooldown_ms": st.CooldownMs,
	}
	if st.NextProbeAt != nil {
		details["next_probe_at"] = st.NextProbeAt.UTC().Format(time.RFC3339)
	}

	var r Result
	switch st.State {
	case resilience.StateOpen:
		r = Result{Status: c.openStatus, Message: "circuit open: sends are rejected", Timestamp: time.Now()}
		if c.openStatus == StatusUnhealthy {
			r.Error = resilience.ErrCircuitOpen
		}
	case resilience.StateHalfOpen:
		r = Degraded("circuit half-open: probing provider")
	default:
		r = Healthy("circuit closed")
	}
	return r.WithDetails(details)
}
