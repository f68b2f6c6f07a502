package sender

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonwraymond/sendguard/resilience"
)

// Kind classifies why a send did not produce a fresh delivery.
type Kind int

const (
	// KindCircuitOpen means the provider is judged unhealthy.
	KindCircuitOpen Kind = iota + 1
	// KindAlreadySent means the ledger shows the target as delivered.
	KindAlreadySent
	// KindSendInProgress means a concurrent call owns the idempotency key.
	KindSendInProgress
	// KindTransport means the transport failed with a terminal code.
	KindTransport
	// KindRetriesExhausted means every attempt failed with a retryable code.
	KindRetriesExhausted
	// KindStorage means the idempotency store or ledger failed before sending.
	KindStorage
)

// Sentinel errors, one per Kind, for errors.Is.
var (
	ErrCircuitOpen      = errors.New("sender: circuit open")
	ErrAlreadySent      = errors.New("sender: already sent")
	ErrSendInProgress   = errors.New("sender: send in progress")
	ErrTransport        = errors.New("sender: transport error")
	ErrRetriesExhausted = errors.New("sender: retries exhausted")
	ErrStorage          = errors.New("sender: storage error")

	errUnknownKind = errors.New("sender: unclassified error")
)

var kindInfo = map[Kind]struct {
	name     string
	status   int
	sentinel error
}{
	KindCircuitOpen:      {"circuit_open", http.StatusServiceUnavailable, ErrCircuitOpen},
	KindAlreadySent:      {"already_sent", http.StatusConflict, ErrAlreadySent},
	KindSendInProgress:   {"send_in_progress", http.StatusConflict, ErrSendInProgress},
	KindTransport:        {"transport", http.StatusBadGateway, ErrTransport},
	KindRetriesExhausted: {"retries_exhausted", http.StatusInternalServerError, ErrRetriesExhausted},
	KindStorage:          {"storage", http.StatusInternalServerError, ErrStorage},
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return "unknown"
}

// HTTPStatus returns the status code an HTTP layer should answer with.
func (k Kind) HTTPStatus() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Sentinel returns the sentinel error of the kind.
func (k Kind) Sentinel() error {
	if info, ok := kindInfo[k]; ok {
		return info.sentinel
	}
	return errUnknownKind
}

// Error is the failure returned by Coordinator.Send.
type Error struct {
	Kind Kind

	// Code classifies the transport failure. Zero for non-transport kinds.
	Code resilience.ErrorCode

	// Err is the underlying cause.
	Err error

	// Attempts is the number of transport calls made.
	Attempts int

	// RetriedErrors lists the message of every failed attempt.
	RetriedErrors []string

	// Bookkeeping holds failures of the post-send updates, if any.
	Bookkeeping error
}

func (e *Error) Error() string {
	transportKind := e.Kind == KindTransport || e.Kind == KindRetriesExhausted
	switch {
	case e.Err != nil && transportKind:
		return fmt.Sprintf("%s (%s): %v", e.Kind.Sentinel(), e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Sentinel(), e.Err)
	default:
		return e.Kind.Sentinel().Error()
	}
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.Sentinel()
}

// Retryable reports whether calling Send again later may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindCircuitOpen, KindSendInProgress, KindRetriesExhausted, KindStorage:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
