package idempotency

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by Store implementations. Callers match them with
// errors.Is; implementations wrap them with the key for context.
var (
	// ErrConflict means a Pending or Success record already holds the key.
	ErrConflict = errors.New("idempotency: record already exists")

	// ErrNotFound means no record exists for the key.
	ErrNotFound = errors.New("idempotency: record not found")

	// ErrInvalidTransition means the record is not Pending or the target
	// status is not terminal.
	ErrInvalidTransition = errors.New("idempotency: invalid status transition")
)

// Store maps idempotency keys to send outcomes.
//
// Contract:
// - Concurrency: Create and Update are atomic per key.
// - Get is a pure read and returns (nil, nil) when no record exists.
// - Records are never deleted by Create or Update.
type Store interface {
	// Get returns the record for key, or nil when absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Create inserts a Pending record. A Failed record for the same key is
	// replaced; a Pending or Success record yields ErrConflict.
	Create(ctx context.Context, targetID, key string) (*Record, error)

	// Update moves a Pending record to Success or Failed. resultID is kept
	// only for Success.
	Update(ctx context.Context, key string, status Status, resultID string) (*Record, error)
}

// CheckCreate reports whether a new Pending record may replace existing.
func CheckCreate(existing *Record) error {
	if existing == nil || existing.Status == StatusFailed {
		return nil
	}
	return fmt.Errorf("%w: key %s is %s", ErrConflict, existing.Key, existing.Status)
}

// CheckUpdate validates a transition of existing to status.
func CheckUpdate(key string, existing *Record, status Status) error {
	if existing == nil {
		return fmt.Errorf("%w: key %s", ErrNotFound, key)
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: target status %q is not terminal", ErrInvalidTransition, status)
	}
	if existing.Status != StatusPending {
		return fmt.Errorf("%w: key %s is already %s", ErrInvalidTransition, key, existing.Status)
	}
	return nil
}

// ResultFor returns the result id to store for status.
func ResultFor(status Status, resultID string) string {
	if status != StatusSuccess {
		return ""
	}
	return resultID
}
