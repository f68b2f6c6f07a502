package statusapi

import (
	"github.com/jonwraymond/sendguard/sender"
	"github.com/jonwraymond/sendguard/transport"
)

// SendRequest is the body of POST /v1/sends.
type SendRequest struct {
	TargetID  string            `json:"targetId"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	TextBody  string            `json:"textBody"`
	HTMLBody  string            `json:"htmlBody"`
	Headers   map[string]string `json:"headers,omitempty"`
	Force     bool              `json:"force"`
}

func (r SendRequest) toSender() sender.Request {
	return sender.Request{
		TargetID: r.TargetID,
		Force:    r.Force,
		Message: transport.Message{
			Recipient: r.Recipient,
			Subject:   r.Subject,
			TextBody:  r.TextBody,
			HTMLBody:  r.HTMLBody,
			Headers:   r.Headers,
		},
	}
}

// SendResponse is the success body of POST /v1/sends.
type SendResponse struct {
	ResultID         string `json:"resultId"`
	IdempotencyKey   string `json:"idempotencyKey"`
	Replayed         bool   `json:"replayed"`
	Attempts         int    `json:"attempts"`
	DurationMs       int64  `json:"durationMs"`
	BookkeepingError string `json:"bookkeepingError,omitempty"`
}

func toSendResponse(o *sender.Outcome) SendResponse {
	resp := SendResponse{
		ResultID:       o.ResultID,
		IdempotencyKey: o.IdempotencyKey,
		Replayed:       o.Replayed,
		Attempts:       o.Attempts,
		DurationMs:     o.Duration.Milliseconds(),
	}
	if o.BookkeepingErr != nil {
		resp.BookkeepingError = o.BookkeepingErr.Error()
	}
	return resp
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Kind          string   `json:"kind"`
	Code          string   `json:"code,omitempty"`
	Retryable     bool     `json:"retryable"`
	Attempts      int      `json:"attempts,omitempty"`
	RetriedErrors []string `json:"retriedErrors,omitempty"`
}
