// Package ledger keeps the append-only history of logical send attempts.
//
// One Attempt is recorded per coordinator call that reached the retry
// executor, not per individual retry. The ledger is the authoritative
// "already delivered" check: it answers by target id, independent of how
// idempotency keys are composed.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks failures of the backing storage.
var ErrUnavailable = errors.New("ledger: storage unavailable")

// Attempt is one logical send attempt.
type Attempt struct {
	ID             string    `json:"id"`
	TargetID       string    `json:"targetId"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	AttemptNumber  int       `json:"attemptNumber"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	MessageID      string    `json:"messageId,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	RetriedErrors  []string  `json:"retriedErrors,omitempty"`
}

// Ledger records and queries send attempts.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - ListByTarget returns attempts in chronological order.
// - Record never rewrites earlier attempts.
type Ledger interface {
	Record(ctx context.Context, a Attempt) error
	ListByTarget(ctx context.Context, targetID string) ([]Attempt, error)
	HasSuccessfulSend(ctx context.Context, targetID string) (bool, error)
}

// Summary aggregates the attempts of one target.
type Summary struct {
	Total      int        `json:"totalAttempts"`
	Successful int        `json:"successfulAttempts"`
	Failed     int        `json:"failedAttempts"`
	HasSuccess bool       `json:"hasSuccessfulSend"`
	LastError  string     `json:"lastError,omitempty"`
	LastTry    *time.Time `json:"lastAttemptAt,omitempty"`
}

// Summarize counts attempts by outcome.
func Summarize(attempts []Attempt) Summary {
	var s Summary
	for _, a := range attempts {
		s.Total++
		if a.Success {
			s.Successful++
			s.HasSuccess = true
		} else {
			s.Failed++
			s.LastError = a.ErrorMessage
		}
	}
	if n := len(attempts); n > 0 {
		ts := attempts[n-1].Timestamp
		s.LastTry = &ts
	}
	return s
}
