package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the computed delay before jitter is applied.
	// Default: 30s
	MaxDelay time.Duration

	// JitterFactor scales each delay by a uniform multiplier in
	// [1-JitterFactor, 1+JitterFactor]. Clamped to [0, 1]; zero disables jitter.
	JitterFactor float64

	// RetryableCodes lists the error codes that trigger another attempt.
	// Default: DefaultRetryableCodes()
	RetryableCodes map[ErrorCode]bool

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the retry policy used for outbound sends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFactor:   0.2,
		RetryableCodes: DefaultRetryableCodes(),
	}
}

// RetryResult describes how a retried operation ended.
type RetryResult struct {
	// Success is true when an attempt returned nil.
	Success bool

	// Err is the terminal error. Exhausted runs wrap the last error with
	// ErrRetriesExhausted.
	Err error

	// Code classifies Err. Zero on success.
	Code ErrorCode

	// Attempts is the number of calls made to the operation.
	Attempts int

	// TotalTime covers all attempts and backoff waits.
	TotalTime time.Duration

	// RetriedErrors holds the message of every failed attempt, in order.
	RetriedErrors []string

	// Delays holds the backoff waits actually taken.
	Delays []time.Duration
}

// Exhausted reports whether the run failed because attempts ran out.
func (r *RetryResult) Exhausted() bool {
	return r != nil && errors.Is(r.Err, ErrRetriesExhausted)
}

// Retry runs operations under a bounded retry policy with exponential
// backoff and jitter. It knows nothing about idempotency or circuit state.
type Retry struct {
	config RetryConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	config.JitterFactor = math.Max(0, math.Min(1, config.JitterFactor))
	if config.RetryableCodes == nil {
		config.RetryableCodes = DefaultRetryableCodes()
	}

	return &Retry{
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		rand: rand.Float64,
	}
}

// Execute runs op until it succeeds, fails with a non-retryable code, or
// MaxAttempts is reached. The backoff wait honors ctx.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) *RetryResult {
	start := r.now()
	result := &RetryResult{}

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := op(ctx)
		if err == nil {
			result.Success = true
			result.Err = nil
			result.Code = CodeUnknown
			result.TotalTime = r.now().Sub(start)
			return result
		}

		code := CodeOf(err)
		result.Code = code
		result.RetriedErrors = append(result.RetriedErrors, err.Error())

		if !r.config.RetryableCodes[code] {
			result.Err = err
			result.TotalTime = r.now().Sub(start)
			return result
		}

		if attempt >= r.config.MaxAttempts {
			result.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
			break
		}

		delay := r.Backoff(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			result.Err = err
			if errors.Is(err, context.DeadlineExceeded) {
				result.Code = CodeTimeout
			}
			result.TotalTime = r.now().Sub(start)
			return result
		}
		result.Delays = append(result.Delays, delay)
	}

	result.TotalTime = r.now().Sub(start)
	return result
}

// Backoff returns the wait before the attempt that follows failed attempt n
// (1-based): min(MaxDelay, BaseDelay*2^(n-1)) scaled by the jitter multiplier.
func (r *Retry) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	delay := float64(r.config.BaseDelay) * math.Pow(2, float64(n-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if j := r.config.JitterFactor; j > 0 {
		// Uniform multiplier in [1-j, 1+j].
		delay *= 1 + j*(2*r.rand()-1)
	}

	return time.Duration(delay)
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// Run executes op with retry and returns the value produced by the
// successful attempt alongside the run summary.
func Run[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, *RetryResult) {
	var data T
	result := r.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		data = v
		return nil
	})
	return data, result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
