package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultBulkheadSize = 10

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of transport calls allowed in flight.
	// Default: 10
	MaxConcurrent int

	// MaxWait is how long a call may queue for a slot. Zero rejects at once.
	MaxWait time.Duration
}

// Bulkhead caps concurrent transport calls so a slow provider cannot pin
// every request goroutine. A full bulkhead reports a retryable
// CodeThrottled error.
type Bulkhead struct {
	size    int
	maxWait time.Duration
	sem     *semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	size := config.MaxConcurrent
	if size <= 0 {
		size = defaultBulkheadSize
	}
	return &Bulkhead{
		size:    size,
		maxWait: config.MaxWait,
		sem:     semaphore.NewWeighted(int64(size)),
	}
}

// Acquire takes a slot, queueing for up to MaxWait. Every successful
// Acquire must be paired with Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if !b.sem.TryAcquire(1) {
		if b.maxWait <= 0 {
			return b.reject()
		}
		waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
		err := b.sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return b.reject()
		}
	}

	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	b.inFlight.Add(-1)
	b.sem.Release(1)
}

func (b *Bulkhead) reject() error {
	b.rejected.Add(1)
	return NewCodedError(CodeThrottled, "", ErrBulkheadFull)
}

// BulkheadStats is a point-in-time view of a bulkhead.
type BulkheadStats struct {
	Capacity int
	InFlight int
	Peak     int
	Rejected int64
}

// Stats returns the current counters.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		Capacity: b.size,
		InFlight: int(b.inFlight.Load()),
		Peak:     int(b.peak.Load()),
		Rejected: b.rejected.Load(),
	}
}
