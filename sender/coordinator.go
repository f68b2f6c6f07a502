package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/transport"
)

// Request is one logical send.
type Request struct {
	// TargetID identifies the logical entity being sent, e.g. a draft id.
	TargetID string

	Message transport.Message

	// Force bypasses the ledger's already-delivered check. It never
	// bypasses the circuit breaker or an in-flight send.
	Force bool
}

// Outcome describes a successful Send.
type Outcome struct {
	ResultID       string
	IdempotencyKey string

	// Replayed is true when ResultID came from an earlier send.
	Replayed bool

	// Attempts is the number of transport calls made by this Send.
	Attempts int
	Duration time.Duration

	// BookkeepingErr holds failures of the post-send updates. The message
	// was delivered regardless.
	BookkeepingErr error
}

// Coordinator runs guarded sends.
//
// Contract:
// - Concurrency: safe for concurrent use; unrelated sends share no lock.
// - At most one transport send runs per idempotency key at a time.
// - Once the transport has been called, the record, breaker and ledger
//   updates all run even if the caller's context is canceled.
type Coordinator struct {
	store     idempotency.Store
	ledger    ledger.Ledger
	breaker   *resilience.CircuitBreaker
	transport transport.Transport

	retry        *resilience.Retry
	guard        *resilience.Guard
	keyer        idempotency.Keyer
	countFailure func(error) bool

	tracer  observe.Tracer
	metrics observe.Metrics
	logger  observe.Logger
	mw      *observe.Middleware

	now   func() time.Time
	newID func() string
}

// New creates a Coordinator. The breaker is shared process-wide and owned
// by the caller.
func New(store idempotency.Store, l ledger.Ledger, breaker *resilience.CircuitBreaker, tr transport.Transport, opts ...Option) (*Coordinator, error) {
	switch {
	case store == nil:
		return nil, errors.New("sender: idempotency store is required")
	case l == nil:
		return nil, errors.New("sender: ledger is required")
	case breaker == nil:
		return nil, errors.New("sender: circuit breaker is required")
	case tr == nil:
		return nil, errors.New("sender: transport is required")
	}

	c := &Coordinator{
		store:        store,
		ledger:       l,
		breaker:      breaker,
		transport:    tr,
		retry:        resilience.NewRetry(resilience.DefaultRetryConfig()),
		keyer:        idempotency.NewDefaultKeyer(),
		countFailure: CountAllFailures,
		tracer:       observe.NewNoopTracer(),
		metrics:      observe.NewNoopMetrics(),
		logger:       observe.NewNopLogger(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mw = observe.NewMiddleware(c.tracer, c.metrics, c.logger, func(err error) string {
		return resilience.CodeOf(err).String()
	})
	return c, nil
}

// Send delivers req at most once.
func (c *Coordinator) Send(ctx context.Context, req Request) (*Outcome, error) {
	start := c.now()
	meta := observe.SendMeta{
		TargetID:  req.TargetID,
		Recipient: req.Message.Recipient,
		Transport: transport.Name(c.transport),
	}

	ctx, span := c.tracer.StartSpan(ctx, observe.SpanCoordinate, meta)
	out, err := c.send(ctx, req, &meta)
	c.tracer.EndSpan(span, err)

	label, attempts := "success", 0
	switch {
	case err != nil:
		label = KindOf(err).String()
		var se *Error
		if errors.As(err, &se) {
			attempts = se.Attempts
		}
	case out.Replayed:
		label = "replayed"
	default:
		attempts = out.Attempts
	}
	elapsed := c.now().Sub(start)
	c.metrics.RecordSend(ctx, meta, label, elapsed, attempts)
	if out != nil {
		out.Duration = elapsed
	}
	return out, err
}

func (c *Coordinator) send(ctx context.Context, req Request, meta *observe.SendMeta) (*Outcome, error) {
	if strings.TrimSpace(req.TargetID) == "" {
		return nil, &Error{
			Kind: KindTransport,
			Code: resilience.CodeInvalidRequest,
			Err:  resilience.NewCodedError(resilience.CodeInvalidRequest, "target id is required", nil),
		}
	}

	probe, allowed := c.breaker.Allow()
	if !allowed {
		return nil, newError(KindCircuitOpen, resilience.ErrCircuitOpen)
	}
	// A probe that never reaches the transport must hand its slot back.
	dispatched := false
	if probe {
		defer func() {
			if !dispatched {
				c.breaker.ReleaseProbe()
			}
		}()
	}

	key := c.keyer.Key(req.TargetID, req.Message.Recipient, req.Message.ContentHash())
	meta.IdempotencyKey = key
	log := c.logger.WithSend(*meta)

	existing, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, newError(KindStorage, fmt.Errorf("check idempotency key: %w", err))
	}
	if existing != nil && existing.Status == idempotency.StatusSuccess {
		log.Info(ctx, "replaying earlier send", observe.F("result_id", existing.ResultID))
		return replay(existing), nil
	}

	if !req.Force {
		sent, err := c.ledger.HasSuccessfulSend(ctx, req.TargetID)
		if err != nil {
			return nil, newError(KindStorage, fmt.Errorf("check ledger: %w", err))
		}
		if sent {
			return nil, newError(KindAlreadySent, fmt.Errorf("target %s already delivered", req.TargetID))
		}
	}

	if existing != nil && existing.Status == idempotency.StatusPending {
		return nil, newError(KindSendInProgress, fmt.Errorf("key %s is pending", key))
	}

	if _, err := c.store.Create(ctx, req.TargetID, key); err != nil {
		if !errors.Is(err, idempotency.ErrConflict) {
			return nil, newError(KindStorage, fmt.Errorf("create idempotency record: %w", err))
		}
		// Lost the race: the winner either finished or is still sending.
		current, gerr := c.store.Get(ctx, key)
		if gerr == nil && current != nil && current.Status == idempotency.StatusSuccess {
			return replay(current), nil
		}
		return nil, newError(KindSendInProgress, err)
	}

	dispatched = true
	return c.dispatch(ctx, req, *meta, key, probe, log)
}

func replay(r *idempotency.Record) *Outcome {
	return &Outcome{ResultID: r.ResultID, IdempotencyKey: r.Key, Replayed: true}
}

// dispatch runs the transport under retry and performs the bookkeeping.
func (c *Coordinator) dispatch(ctx context.Context, req Request, meta observe.SendMeta, key string, probe bool, log observe.Logger) (*Outcome, error) {
	// Bookkeeping after a send must outlive the caller.
	execCtx := context.WithoutCancel(ctx)
	started := c.now()

	// The guard returns only after transport.Send has, so receipt has a
	// single writer per attempt and attempts never overlap.
	call := c.mw.Wrap(func(ctx context.Context, _ observe.SendMeta) (string, error) {
		var receipt transport.Receipt
		err := c.guard.Do(ctx, func(ctx context.Context) error {
			var err error
			receipt, err = c.transport.Send(ctx, req.Message)
			return err
		})
		return receipt.MessageID, err
	})

	attempt := 0
	messageID, res := resilience.Run(execCtx, c.retry, func(ctx context.Context) (string, error) {
		attempt++
		m := meta
		m.Attempt = attempt
		return call(ctx, m)
	})

	var bookkeeping []error
	fail := func(op string, err error) {
		bookkeeping = append(bookkeeping, fmt.Errorf("%s: %w", op, err))
		c.metrics.RecordBookkeepingError(execCtx, op)
		log.Error(execCtx, "bookkeeping failed", observe.F("op", op), observe.F("error", err))
	}

	attemptRec := ledger.Attempt{
		ID:             c.newID(),
		TargetID:       req.TargetID,
		IdempotencyKey: key,
		AttemptNumber:  res.Attempts,
		Timestamp:      started,
		Success:        res.Success,
		ResponseTimeMs: res.TotalTime.Milliseconds(),
		RetriedErrors:  res.RetriedErrors,
	}

	if res.Success {
		attemptRec.MessageID = messageID
		if _, err := c.store.Update(execCtx, key, idempotency.StatusSuccess, messageID); err != nil {
			fail("idempotency.update", err)
		}
		c.breaker.RecordSuccess()
	} else {
		attemptRec.ErrorCode = res.Code.String()
		attemptRec.ErrorMessage = res.Err.Error()
		if _, err := c.store.Update(execCtx, key, idempotency.StatusFailed, ""); err != nil {
			fail("idempotency.update", err)
		}
		switch {
		case c.countFailure(res.Err):
			c.breaker.RecordFailure()
		case probe:
			c.breaker.ReleaseProbe()
		}
	}
	if err := c.ledger.Record(execCtx, attemptRec); err != nil {
		fail("ledger.record", err)
	}
	bkErr := errors.Join(bookkeeping...)

	if res.Success {
		log.Info(execCtx, "send delivered",
			observe.F("result_id", messageID),
			observe.F("attempts", res.Attempts),
			observe.F("duration_ms", res.TotalTime.Milliseconds()),
		)
		return &Outcome{
			ResultID:       messageID,
			IdempotencyKey: key,
			Attempts:       res.Attempts,
			BookkeepingErr: bkErr,
		}, nil
	}

	kind := KindTransport
	if res.Exhausted() {
		kind = KindRetriesExhausted
	}
	log.Warn(execCtx, "send failed",
		observe.F("kind", kind.String()),
		observe.F("code", res.Code.String()),
		observe.F("attempts", res.Attempts),
		observe.F("error", res.Err),
	)
	return nil, &Error{
		Kind:          kind,
		Code:          res.Code,
		Err:           res.Err,
		Attempts:      res.Attempts,
		RetriedErrors: res.RetriedErrors,
		Bookkeeping:   bkErr,
	}
}
