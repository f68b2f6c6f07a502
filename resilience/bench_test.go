package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func BenchmarkCircuitBreaker_IsOpen_Closed(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.IsOpen()
	}
}

func BenchmarkCircuitBreaker_Status(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	cb.RecordFailure()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Status()
	}
}

func BenchmarkCircuitBreaker_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1 << 30})

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !cb.IsOpen() {
				cb.RecordSuccess()
			}
		}
	})
}

func BenchmarkRetry_NoRetries(b *testing.B) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Execute(ctx, func(ctx context.Context) error {
			return nil
		})
	}
}

func BenchmarkRetry_Backoff(b *testing.B) {
	r := NewRetry(DefaultRetryConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Backoff(i%8 + 1)
	}
}

func BenchmarkRateLimiter_Allow(b *testing.B) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1e9, Burst: 1 << 20})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Allow()
	}
}

func BenchmarkBulkhead_AcquireRelease(b *testing.B) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 100})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if bh.Acquire(ctx) == nil {
			bh.Release()
		}
	}
}

func BenchmarkGuard_Do(b *testing.B) {
	g := NewGuard(GuardConfig{
		Timeout:  time.Second,
		Limiter:  NewRateLimiter(RateLimiterConfig{Rate: 1e9, Burst: 1 << 20}),
		Bulkhead: NewBulkhead(BulkheadConfig{MaxConcurrent: 100}),
	})
	ctx := context.Background()
	op := func(context.Context) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Do(ctx, op)
	}
}

func BenchmarkCodeOf(b *testing.B) {
	err := errors.Join(errors.New("context"), NewCodedError(CodeTimeout, "", nil))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CodeOf(err)
	}
}
