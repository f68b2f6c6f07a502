package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRate    = 100
	defaultBurst   = 10
	defaultMaxWait = time.Second
)

// RateLimiterConfig configures the token bucket in front of the provider.
type RateLimiterConfig struct {
	// Rate is calls per second. Default: 100
	Rate float64
	// Burst is the bucket size. Default: 10
	Burst int
	// WaitOnLimit makes Admit queue for a token instead of failing at once.
	WaitOnLimit bool
	// MaxWait bounds the queueing. Default: 1s
	MaxWait time.Duration
}

// RateLimiter admits calls at the provider's allowed rate. A denial is a
// retryable CodeRateLimited error wrapping ErrRateLimitExceeded.
type RateLimiter struct {
	cfg    RateLimiterConfig
	bucket *rate.Limiter
}

// NewRateLimiter creates a rate limiter, filling zero fields with defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	return &RateLimiter{cfg: cfg, bucket: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)}
}

// Admit takes a token for one call. With WaitOnLimit it queues up to
// MaxWait; otherwise an empty bucket is denied at once.
func (rl *RateLimiter) Admit(ctx context.Context) error {
	if rl.cfg.WaitOnLimit {
		return rl.Wait(ctx)
	}
	if !rl.bucket.Allow() {
		return NewCodedError(CodeRateLimited, "", ErrRateLimitExceeded)
	}
	return nil
}

// Allow takes a token if one is available now.
func (rl *RateLimiter) Allow() bool { return rl.bucket.Allow() }

// Wait queues for a token until MaxWait elapses or ctx is done. Parent
// cancellation is returned unchanged.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, rl.cfg.MaxWait)
	defer cancel()

	err := rl.bucket.Wait(waitCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return NewCodedError(CodeRateLimited, "no token within "+rl.cfg.MaxWait.String(), ErrRateLimitExceeded)
	}
}

// Tokens returns the tokens currently in the bucket.
func (rl *RateLimiter) Tokens() float64 { return rl.bucket.Tokens() }

// Config returns the effective configuration.
func (rl *RateLimiter) Config() RateLimiterConfig { return rl.cfg }
