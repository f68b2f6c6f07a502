package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultRunTimeout = 10 * time.Second

// Report is the combined outcome of every registered check.
type Report struct {
	Status    Status
	Checks    map[string]Result
	CheckedAt time.Time
	// Order holds the check names in registration order.
	Order []string
}

// Failing lists the checks that were not healthy, in registration order.
func (r Report) Failing() []string {
	var out []string
	for _, name := range r.Order {
		if res, ok := r.Checks[name]; ok && res.Status != StatusHealthy {
			out = append(out, name)
		}
	}
	return out
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRunTimeout bounds a whole Run. Default: 10s.
func WithRunTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithConcurrency caps how many checks run at once. Zero means no cap.
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) { a.limit = n }
}

// RegisterOption configures one registered check.
type RegisterOption func(*entry)

// Optional marks a check whose failure degrades the report instead of making
// it unhealthy. The Kafka attempt stream is optional: the ledger of record
// still works without it.
func Optional() RegisterOption {
	return func(e *entry) { e.optional = true }
}

type entry struct {
	checker  Checker
	optional bool
}

// Aggregator runs named checks in parallel and folds them into a Report.
type Aggregator struct {
	timeout time.Duration
	limit   int

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{timeout: defaultRunTimeout, entries: make(map[string]entry)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds a check under name. Registering a name twice replaces the
// check but keeps its original position.
func (a *Aggregator) Register(name string, c Checker, opts ...RegisterOption) {
	e := entry{checker: c}
	for _, opt := range opts {
		opt(&e)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[name]; !ok {
		a.order = append(a.order, name)
	}
	a.entries[name] = e
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Check runs the single check registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	e, ok := a.entries[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrUnknownCheck
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, e.checker), nil
}

// Run executes every check and reports the worst status, with optional
// checks capped at degraded.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	entries := make(map[string]entry, len(a.entries))
	for name, e := range a.entries {
		entries[name] = e
	}
	order := append([]string(nil), a.order...)
	a.mu.RUnlock()

	rep := Report{Checks: make(map[string]Result, len(entries)), CheckedAt: time.Now(), Order: order}
	if len(entries) == 0 {
		return rep
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for name, e := range entries {
		g.Go(func() error {
			res := run(ctx, e.checker)
			counted := res.Status
			if e.optional {
				counted = min(counted, StatusDegraded)
			}

			mu.Lock()
			rep.Checks[name] = res
			rep.Status = rep.Status.Worse(counted)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// run executes c, giving up when ctx is done even if c ignores it.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		res := c.Check(ctx)
		if res.Timestamp.IsZero() {
			res.Timestamp = start
		}
		done <- res.WithDuration(time.Since(start))
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		res := Unhealthy("check timed out", ErrTimedOut).WithDuration(time.Since(start))
		res.Timestamp = start
		return res
	}
}
