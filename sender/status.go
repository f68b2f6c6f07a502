package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
)

// CircuitSnapshot is the breaker view embedded in RetryStatus.
type CircuitSnapshot struct {
	State       resilience.State `json:"state"`
	Failures    int              `json:"failures"`
	NextProbeAt *time.Time       `json:"nextProbeAt,omitempty"`
}

// RetryStatus is the send history of one target.
type RetryStatus struct {
	TargetID           string           `json:"targetId"`
	HasSuccessfulSend  bool             `json:"hasSuccessfulSend"`
	Attempts           []ledger.Attempt `json:"attempts"`
	TotalAttempts      int              `json:"totalAttempts"`
	SuccessfulAttempts int              `json:"successfulAttempts"`
	FailedAttempts     int              `json:"failedAttempts"`
	LastError          string           `json:"lastError,omitempty"`
	LastAttemptAt      *time.Time       `json:"lastAttemptAt,omitempty"`
	CircuitBreaker     CircuitSnapshot  `json:"circuitBreaker"`
}

// GetRetryStatus reports the attempt history of targetID and the current
// breaker state.
func (c *Coordinator) GetRetryStatus(ctx context.Context, targetID string) (*RetryStatus, error) {
	attempts, err := c.ledger.ListByTarget(ctx, targetID)
	if err != nil {
		return nil, newError(KindStorage, fmt.Errorf("list attempts: %w", err))
	}
	if attempts == nil {
		attempts = []ledger.Attempt{}
	}

	sum := ledger.Summarize(attempts)
	cb := c.breaker.Status()
	return &RetryStatus{
		TargetID:           targetID,
		HasSuccessfulSend:  sum.HasSuccess,
		Attempts:           attempts,
		TotalAttempts:      sum.Total,
		SuccessfulAttempts: sum.Successful,
		FailedAttempts:     sum.Failed,
		LastError:          sum.LastError,
		LastAttemptAt:      sum.LastTry,
		CircuitBreaker: CircuitSnapshot{
			State:       cb.State,
			Failures:    cb.Failures,
			NextProbeAt: cb.NextProbeAt,
		},
	}, nil
}

// CircuitStatus returns the breaker snapshot.
func (c *Coordinator) CircuitStatus() resilience.CircuitStatus {
	return c.breaker.Status()
}

// CircuitTransitionRecorder returns a CircuitBreakerConfig.OnStateChange
// hook that counts and logs transitions. It runs under the breaker lock.
func CircuitTransitionRecorder(metrics observe.Metrics, logger observe.Logger) func(from, to resilience.State) {
	if metrics == nil {
		metrics = observe.NewNoopMetrics()
	}
	if logger == nil {
		logger = observe.NewNopLogger()
	}
	return func(from, to resilience.State) {
		ctx := context.Background()
		metrics.RecordCircuitTransition(ctx, from.String(), to.String())
		logger.Warn(ctx, "circuit state changed",
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		)
	}
}
