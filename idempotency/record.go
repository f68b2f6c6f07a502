package idempotency

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	// StatusPending means a send for the key is in flight.
	StatusPending Status = "pending"
	// StatusSuccess means the send was delivered; ResultID holds the message id.
	StatusSuccess Status = "success"
	// StatusFailed means the send ended with a definitive failure.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status ends a record's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("idempotency: unknown status %q", s)
	}
	return st, nil
}

// Record is the stored outcome of a logical send.
type Record struct {
	Key       string    `json:"key"`
	TargetID  string    `json:"targetId"`
	Status    Status    `json:"status"`
	ResultID  string    `json:"resultId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that callers may modify freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// NewPending returns a fresh Pending record stamped at now.
func NewPending(targetID, key string, now time.Time) *Record {
	return &Record{
		Key:       key,
		TargetID:  targetID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
