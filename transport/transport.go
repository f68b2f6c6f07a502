// Package transport delivers a single email message to a provider.
//
// Transports are opaque to the coordinator: one Send call is one delivery
// attempt, with no retries of its own. Failures are returned as
// *resilience.CodedError so the retry executor can decide what to do.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/resilience"
)

// Attachment is a file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound email.
type Message struct {
	Recipient   string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	// Headers are extra MIME headers, e.g. In-Reply-To for ticket threads.
	Headers map[string]string
}

// ContentHash digests everything about the message except the recipient.
func (m Message) ContentHash() string {
	parts := [][]byte{[]byte(m.Subject), []byte(m.TextBody), []byte(m.HTMLBody)}
	for _, a := range m.Attachments {
		parts = append(parts, []byte(a.Filename), []byte(a.ContentType), a.Data)
	}
	return idempotency.ContentHash(parts...)
}

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Recipient) == "" {
		return resilience.NewCodedError(resilience.CodeInvalidRecipient, "recipient is required", nil)
	}
	if !strings.Contains(m.Recipient, "@") {
		return resilience.NewCodedError(resilience.CodeInvalidRecipient, "recipient "+m.Recipient+" is not an address", nil)
	}
	if m.TextBody == "" && m.HTMLBody == "" {
		return resilience.NewCodedError(resilience.CodeInvalidRequest, "message has no body", nil)
	}
	return nil
}

// Receipt is the provider's acknowledgement of a delivered message.
type Receipt struct {
	MessageID string
}

// Transport sends one message.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: failures should be *resilience.CodedError; unclassified errors
//   are treated as terminal.
// - Send performs exactly one delivery attempt.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, msg Message) (Receipt, error)

// Send calls f.
func (f Func) Send(ctx context.Context, msg Message) (Receipt, error) {
	return f(ctx, msg)
}

// Name returns t's name when it has one, "custom" otherwise.
func Name(t Transport) string {
	if n, ok := t.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// classifyNetwork maps context and network failures, which every transport
// shares, onto error codes.
func classifyNetwork(err error) (resilience.ErrorCode, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.CodeTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return resilience.CodeTimeout, true
		}
		return resilience.CodeConnection, true
	}
	return resilience.CodeUnknown, false
}
