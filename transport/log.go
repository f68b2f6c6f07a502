package transport

import (
	"context"

	"github.com/jonwraymond/sendguard/observe"
)

// LogTransport logs messages instead of delivering them. For development.
type LogTransport struct {
	logger observe.Logger
	domain string
}

// NewLogTransport creates a LogTransport. A nil logger discards output.
func NewLogTransport(logger observe.Logger, domain string) *LogTransport {
	if logger == nil {
		logger = observe.NewNopLogger()
	}
	return &LogTransport{logger: logger, domain: domain}
}

// Name returns "log".
func (t *LogTransport) Name() string { return "log" }

// Send logs msg and returns a generated message id.
func (t *LogTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}
	id := NewMessageID(t.domain)
	t.logger.Info(ctx, "message accepted by log transport",
		observe.F("message_id", id),
		observe.F("recipient", observe.MaskAddress(msg.Recipient)),
		observe.F("attachments", len(msg.Attachments)),
	)
	return Receipt{MessageID: id}, nil
}
