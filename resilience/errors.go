package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRetriesExhausted wraps the last error once every attempt has failed
	// with a retryable code.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")

	// ErrRateLimitExceeded is returned when the rate limiter denies a call.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when a single call exceeds its time budget.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// ErrorCode classifies a failed send call. The set is closed: every code a
// transport can report is listed here, and each knows whether it is worth
// retrying.
type ErrorCode int

const (
	// CodeUnknown is used for errors that carry no classification.
	CodeUnknown ErrorCode = iota
	// CodeTimeout means the call did not finish within its budget.
	CodeTimeout
	// CodeConnection means the provider could not be reached.
	CodeConnection
	// CodeRateLimited means the provider (or the local limiter) asked us to slow down.
	CodeRateLimited
	// CodeThrottled means local concurrency limits rejected the call.
	CodeThrottled
	// CodeUnavailable means the provider reported a temporary outage.
	CodeUnavailable
	// CodeInvalidRecipient means the recipient address was refused.
	CodeInvalidRecipient
	// CodeRejected means the provider refused the message content.
	CodeRejected
	// CodeAuthentication means our credentials were refused.
	CodeAuthentication
	// CodeInvalidRequest means the message could not be built or was malformed.
	CodeInvalidRequest
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:          "unknown",
	CodeTimeout:          "timeout",
	CodeConnection:       "connection",
	CodeRateLimited:      "rate_limited",
	CodeThrottled:        "throttled",
	CodeUnavailable:      "unavailable",
	CodeInvalidRecipient: "invalid_recipient",
	CodeRejected:         "rejected",
	CodeAuthentication:   "authentication",
	CodeInvalidRequest:   "invalid_request",
}

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether the code describes a transient condition.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeTimeout, CodeConnection, CodeRateLimited, CodeThrottled, CodeUnavailable:
		return true
	default:
		return false
	}
}

// ParseErrorCode maps a wire name back to its code.
func ParseErrorCode(s string) (ErrorCode, bool) {
	for code, name := range codeNames {
		if name == s {
			return code, true
		}
	}
	return CodeUnknown, false
}

// AllErrorCodes lists every known code.
func AllErrorCodes() []ErrorCode {
	return []ErrorCode{
		CodeUnknown, CodeTimeout, CodeConnection, CodeRateLimited, CodeThrottled,
		CodeUnavailable, CodeInvalidRecipient, CodeRejected, CodeAuthentication,
		CodeInvalidRequest,
	}
}

// DefaultRetryableCodes returns the set of codes whose Retryable() is true.
func DefaultRetryableCodes() map[ErrorCode]bool {
	codes := make(map[ErrorCode]bool)
	for _, c := range AllErrorCodes() {
		if c.Retryable() {
			codes[c] = true
		}
	}
	return codes
}

// CodedError is a classified failure reported by a send operation.
type CodedError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewCodedError creates a classified error.
func NewCodedError(code ErrorCode, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// Error returns the error message.
func (e *CodedError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the code is transient by default.
func (e *CodedError) Retryable() bool {
	return e.Code.Retryable()
}

// CodeOf extracts the ErrorCode carried by err. Errors without a
// classification report CodeUnknown; nil reports CodeUnknown as well.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.Is(err, ErrBulkheadFull):
		return CodeThrottled
	}
	return CodeUnknown
}
