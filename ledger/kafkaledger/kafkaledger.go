// Package kafkaledger publishes every recorded send attempt to a Kafka
// audit topic while delegating storage and queries to another ledger.
package kafkaledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jonwraymond/sendguard/ledger"
	"github.com/jonwraymond/sendguard/observe"
)

// ErrPublish is returned from Record in strict mode when the audit event
// could not be written.
var ErrPublish = errors.New("kafkaledger: publish failed")

// MessageWriter is the subset of *kafka.Writer used by the ledger.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Config configures the audit publisher.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic receives one message per attempt, keyed by target id.
	Topic string

	// WriteTimeout bounds a single publish.
	// Default: 3 seconds
	WriteTimeout time.Duration

	// BatchTimeout is the maximum time the writer waits to fill a batch.
	// Default: 50ms
	BatchTimeout time.Duration

	// Strict makes publish failures fail Record. The inner ledger has
	// already stored the attempt when this happens.
	Strict bool
}

// Event is the JSON payload written to the audit topic.
type Event struct {
	Type    string         `json:"type"`
	Attempt ledger.Attempt `json:"attempt"`
}

// EventTypeAttempt is the type of every published event.
const EventTypeAttempt = "send.attempt"

// NewWriter builds a kafka.Writer for cfg. Messages with the same key land
// on the same partition, so the history of one target stays ordered.
func NewWriter(cfg Config) (*kafka.Writer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafkaledger: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkaledger: topic is required")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}

func cleanBrokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Brokers reports whether the audit cluster accepts connections. It
// satisfies health.Pinger.
type Brokers struct {
	addrs  []string
	dialer *kafka.Dialer
}

// NewBrokers creates a reachability probe over addrs.
func NewBrokers(addrs []string) *Brokers {
	return &Brokers{addrs: cleanBrokers(addrs), dialer: &kafka.Dialer{}}
}

// Ping succeeds as soon as one broker accepts a connection.
func (b *Brokers) Ping(ctx context.Context) error {
	if len(b.addrs) == 0 {
		return errors.New("kafkaledger: no brokers configured")
	}
	var errs []error
	for _, addr := range b.addrs {
		conn, err := b.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafkaledger: no broker reachable: %w", errors.Join(errs...))
}

// Ledger decorates an inner ledger with audit publishing.
//
// Contract:
// - Record stores into the inner ledger first; publishing never happens for
//   an attempt the inner ledger rejected.
// - Queries go to the inner ledger only.
type Ledger struct {
	inner   ledger.Ledger
	writer  MessageWriter
	logger  observe.Logger
	timeout time.Duration
	strict  bool

	published atomic.Int64
	failed    atomic.Int64
}

var _ ledger.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for publish failures.
func WithLogger(l observe.Logger) Option {
	return func(k *Ledger) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithStrict enables strict mode.
func WithStrict(strict bool) Option {
	return func(k *Ledger) { k.strict = strict }
}

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(d time.Duration) Option {
	return func(k *Ledger) {
		if d > 0 {
			k.timeout = d
		}
	}
}

// New wraps inner so that every recorded attempt is also written to w.
func New(inner ledger.Ledger, w MessageWriter, opts ...Option) *Ledger {
	k := &Ledger{
		inner:   inner,
		writer:  w,
		logger:  observe.NewNopLogger(),
		timeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Record stores a and publishes it to the audit topic.
func (k *Ledger) Record(ctx context.Context, a ledger.Attempt) error {
	if err := k.inner.Record(ctx, a); err != nil {
		return err
	}

	if err := k.publish(ctx, a); err != nil {
		k.failed.Add(1)
		k.logger.Warn(ctx, "audit publish failed",
			observe.F("target_id", a.TargetID),
			observe.F("attempt_id", a.ID),
			observe.F("error", err),
		)
		if k.strict {
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}
		return nil
	}
	k.published.Add(1)
	return nil
}

func (k *Ledger) publish(ctx context.Context, a ledger.Attempt) error {
	value, err := json.Marshal(Event{Type: EventTypeAttempt, Attempt: a})
	if err != nil {
		return err
	}

	// Publishing must not be cut short by the caller going away.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return k.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(a.TargetID),
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventTypeAttempt)},
		},
	})
}

// ListByTarget delegates to the inner ledger.
func (k *Ledger) ListByTarget(ctx context.Context, targetID string) ([]ledger.Attempt, error) {
	return k.inner.ListByTarget(ctx, targetID)
}

// HasSuccessfulSend delegates to the inner ledger.
func (k *Ledger) HasSuccessfulSend(ctx context.Context, targetID string) (bool, error) {
	return k.inner.HasSuccessfulSend(ctx, targetID)
}

// Stats reports publish counters.
func (k *Ledger) Stats() (published, failed int64) {
	return k.published.Load(), k.failed.Load()
}
