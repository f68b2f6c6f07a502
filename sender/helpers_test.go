package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/transport"
)

// scriptedTransport returns errs[i] on call i+1 and succeeds once the
// script runs out. A non-nil gate blocks every call until it is closed.
type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	calls atomic.Int32
	gate  chan struct{}
	onErr error // returned on every call when set
}

func (s *scriptedTransport) Send(ctx context.Context, msg transport.Message) (transport.Receipt, error) {
	n := int(s.calls.Add(1))
	if s.gate != nil {
		<-s.gate
	}
	if s.onErr != nil {
		return transport.Receipt{}, s.onErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.errs) && s.errs[n-1] != nil {
		return transport.Receipt{}, s.errs[n-1]
	}
	return transport.Receipt{MessageID: fmt.Sprintf("<msg-%d@example.com>", n)}, nil
}

func (s *scriptedTransport) Name() string { return "scripted" }

func coded(code resilience.ErrorCode) error {
	return resilience.NewCodedError(code, "scripted", nil)
}

// spyStore counts calls and can fail selected operations.
type spyStore struct {
	idempotency.Store
	calls     atomic.Int32
	getErr    error
	updateErr error
	ctxAware  bool
}

func (s *spyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	s.calls.Add(1)
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Create(ctx context.Context, targetID, key string) (*idempotency.Record, error) {
	s.calls.Add(1)
	return s.Store.Create(ctx, targetID, key)
}

func (s *spyStore) Update(ctx context.Context, key string, status idempotency.Status, resultID string) (*idempotency.Record, error) {
	s.calls.Add(1)
	if s.ctxAware && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.Store.Update(ctx, key, status, resultID)
}

type failingLedger struct {
	ledger.Ledger
	recordErr error
	hasErr    error
}

func (l *failingLedger) Record(ctx context.Context, a ledger.Attempt) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	return l.Ledger.Record(ctx, a)
}

func (l *failingLedger) HasSuccessfulSend(ctx context.Context, targetID string) (bool, error) {
	if l.hasErr != nil {
		return false, l.hasErr
	}
	return l.Ledger.HasSuccessfulSend(ctx, targetID)
}

// recordingMetrics implements observe.Metrics for assertions.
type recordingMetrics struct {
	mu          sync.Mutex
	outcomes    []string
	transport   []string
	bookkeeping []string
	transitions []string
}

func (m *recordingMetrics) RecordSend(_ context.Context, _ observe.SendMeta, outcome string, _ time.Duration, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordTransportCall(_ context.Context, _ observe.SendMeta, _ time.Duration, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = append(m.transport, code)
}

func (m *recordingMetrics) RecordBookkeepingError(_ context.Context, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookkeeping = append(m.bookkeeping, op)
}

func (m *recordingMetrics) RecordCircuitTransition(_ context.Context, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *recordingMetrics) snapshot() recordingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recordingMetrics{
		outcomes:    append([]string(nil), m.outcomes...),
		transport:   append([]string(nil), m.transport...),
		bookkeeping: append([]string(nil), m.bookkeeping...),
		transitions: append([]string(nil), m.transitions...),
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	coord     *Coordinator
	store     *spyStore
	ledger    *failingLedger
	breaker   *resilience.CircuitBreaker
	transport *scriptedTransport
	metrics   *recordingMetrics
	clock     *clock
}

type harnessConfig struct {
	threshold   int
	maxAttempts int
	opts        []Option
}

func newHarness(t *testing.T, tr *scriptedTransport, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.threshold == 0 {
		cfg.threshold = 5
	}
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = 3
	}

	h := &harness{
		store:     &spyStore{Store: idempotency.NewMemoryStore(idempotency.DefaultPolicy())},
		ledger:    &failingLedger{Ledger: ledger.NewMemoryLedger()},
		transport: tr,
		metrics:   &recordingMetrics{},
		clock:     newClock(),
	}
	h.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.threshold,
		Cooldown:         time.Minute,
		Now:              h.clock.Now,
		OnStateChange:    CircuitTransitionRecorder(h.metrics, nil),
	})

	opts := append([]Option{
		WithRetryConfig(resilience.RetryConfig{
			MaxAttempts: cfg.maxAttempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    time.Millisecond,
		}),
		WithMetrics(h.metrics),
	}, cfg.opts...)

	coord, err := New(h.store, h.ledger, h.breaker, tr, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.coord = coord
	return h
}

func request(target string) Request {
	return Request{
		TargetID: target,
		Message: transport.Message{
			Recipient: "customer@example.com",
			Subject:   "Re: your ticket",
			TextBody:  "Fixed.",
		},
	}
}

func mustKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v (%T), want *Error", err, err)
	}
	if se.Kind != want {
		t.Fatalf("kind = %s, want %s (err = %v)", se.Kind, want, err)
	}
	return se
}
