package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GuardConfig selects the protections applied to each transport call. Zero
// values disable the corresponding protection.
type GuardConfig struct {
	// Timeout caps one call.
	Timeout time.Duration
	// Limiter admits calls at the provider's allowed rate.
	Limiter *RateLimiter
	// Bulkhead caps calls in flight.
	Bulkhead *Bulkhead
}

// Guard wraps a single transport call, not the whole retry loop: each
// attempt is admitted, slotted and timed on its own. Every rejection carries
// a retryable ErrorCode, so the retry executor backs off and tries again.
//
// A nil *Guard calls op directly.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a guard from cfg.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Config returns the guard's configuration.
func (g *Guard) Config() GuardConfig {
	if g == nil {
		return GuardConfig{}
	}
	return g.cfg
}

// Do runs op after the rate limiter admits it and the bulkhead grants a
// slot, and bounds it with the timeout. The slot is held until op returns.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	if g == nil {
		return op(ctx)
	}
	if g.cfg.Limiter != nil {
		if err := g.cfg.Limiter.Admit(ctx); err != nil {
			return err
		}
	}
	if g.cfg.Bulkhead != nil {
		if err := g.cfg.Bulkhead.Acquire(ctx); err != nil {
			return err
		}
		defer g.cfg.Bulkhead.Release()
	}
	if g.cfg.Timeout > 0 {
		return CallWithDeadline(ctx, g.cfg.Timeout, op)
	}
	return op(ctx)
}

// CallWithDeadline runs op with a context that expires after d and waits for
// op to return, so a timed-out call never overlaps the next attempt. A call
// that fails once the deadline has passed is reported as a CodeTimeout error
// wrapping ErrTimeout; one that succeeds anyway is a success. Cancellation of
// the parent context is returned unchanged.
//
// op must honor its context for the deadline to bound the call.
func CallWithDeadline(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(callCtx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return NewCodedError(CodeTimeout, "call exceeded "+d.String(), fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return err
}
