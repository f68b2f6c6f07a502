// Package resilience provides the failure-handling building blocks for
// outbound sends.
//
// # Patterns
//
//   - Circuit Breaker: a process-wide health gate. After FailureThreshold
//     consecutive failures the circuit opens; once the cooldown passes a
//     single probe is admitted (half-open). A failed probe reopens the
//     circuit with a longer cooldown.
//
//   - Retry: bounded attempts with exponential backoff and jitter. Only
//     errors whose ErrorCode is in RetryableCodes are retried.
//
//   - Guard: wraps each individual transport call with a rate limiter, a
//     bulkhead and a deadline. It sits inside the retry loop.
//
// # Error codes
//
// Failures are classified by a closed ErrorCode set carried on
// *CodedError. Guard rejections map to retryable codes: a timeout is
// CodeTimeout, a rate limit denial is CodeRateLimited and a full bulkhead
// is CodeThrottled. Unclassified errors are CodeUnknown and terminal.
//
// # Usage
//
//	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    Cooldown:         time.Minute,
//	})
//
//	retry := resilience.NewRetry(resilience.DefaultRetryConfig())
//
//	guard := resilience.NewGuard(resilience.GuardConfig{
//	    Timeout: 10 * time.Second,
//	    Limiter: resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 10}),
//	})
//
//	if breaker.IsOpen() {
//	    return resilience.ErrCircuitOpen
//	}
//	result := retry.Execute(ctx, func(ctx context.Context) error {
//	    return guard.Do(ctx, send)
//	})
//	if result.Success {
//	    breaker.RecordSuccess()
//	} else {
//	    breaker.RecordFailure()
//	}
package resilience
