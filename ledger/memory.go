package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt
	success  map[string]bool
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		attempts: make(map[string][]Attempt),
		success:  make(map[string]bool),
	}
}

// Record appends a.
func (l *MemoryLedger) Record(_ context.Context, a Attempt) error {
	a.RetriedErrors = append([]string(nil), a.RetriedErrors...)

	l.mu.Lock()
	defer l.mu.Unlock()

	list := append(l.attempts[a.TargetID], a)
	// Keep chronological order when callers record out of order.
	if n := len(list); n > 1 && list[n-1].Timestamp.Before(list[n-2].Timestamp) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.Before(list[j].Timestamp)
		})
	}
	l.attempts[a.TargetID] = list
	if a.Success {
		l.success[a.TargetID] = true
	}
	return nil
}

// ListByTarget returns a copy of the attempts for targetID.
func (l *MemoryLedger) ListByTarget(_ context.Context, targetID string) ([]Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.attempts[targetID]
	out := make([]Attempt, len(src))
	copy(out, src)
	return out, nil
}

// HasSuccessfulSend reports whether any attempt for targetID succeeded.
func (l *MemoryLedger) HasSuccessfulSend(_ context.Context, targetID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.success[targetID], nil
}

// Ensure MemoryLedger implements Ledger
var _ Ledger = (*MemoryLedger)(nil)
