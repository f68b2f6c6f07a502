package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/jonwraymond/sendguard/resilience"
)

// Mailer delivers one rendered message and returns once the relay session
// is over. It must give up when ctx is done.
type Mailer interface {
	Send(ctx context.Context, m *gomail.Message) error
}

// SMTPConfig configures an SMTPTransport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the envelope and header sender.
	From Sender

	// MessageIDDomain is the right-hand side of generated Message-IDs.
	// Default: the domain of From.Address
	MessageIDDomain string

	// InsecureSkipVerify disables TLS certificate checks. Test relays only.
	InsecureSkipVerify bool
}

// SMTPTransport sends mail through an SMTP relay with gomail.
type SMTPTransport struct {
	mailer   Mailer
	from     Sender
	idDomain string
	host     string
}

// NewSMTPTransport creates a transport that dials cfg.Host for every send.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("transport: smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From.Address == "" {
		return nil, errors.New("transport: smtp sender address is required")
	}

	return NewSMTPTransportWithMailer(newRelay(cfg), cfg), nil
}

// NewSMTPTransportWithMailer creates a transport on an existing mailer.
func NewSMTPTransportWithMailer(m Mailer, cfg SMTPConfig) *SMTPTransport {
	domain := cfg.MessageIDDomain
	if domain == "" {
		domain = domainOf(cfg.From.Address)
	}
	return &SMTPTransport{mailer: m, from: cfg.From, idDomain: domain, host: cfg.Host}
}

// Name returns "smtp".
func (t *SMTPTransport) Name() string { return "smtp" }

// Host returns the relay host.
func (t *SMTPTransport) Host() string { return t.host }

// Send renders msg and hands it to the relay. It returns only after the
// relay session has ended.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}

	id := NewMessageID(t.idDomain)
	m := buildMessage(t.from, msg, id)

	if err := t.mailer.Send(ctx, m); err != nil {
		return Receipt{}, classifySMTP(err)
	}
	return Receipt{MessageID: id}, nil
}

// classifySMTP maps relay replies and network failures onto error codes.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return resilience.NewCodedError(smtpReplyCode(tpErr.Code), fmt.Sprintf("smtp %d", tpErr.Code), err)
	}
	if code, ok := classifyNetwork(err); ok {
		return resilience.NewCodedError(code, "smtp", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return resilience.NewCodedError(resilience.CodeConnection, "smtp connection closed", err)
	}

	// gomail flattens some replies into plain strings such as
	// "gomail: could not send email 1: 550 5.1.1 unknown user".
	if code, ok := replyCodeInText(err.Error()); ok {
		return resilience.NewCodedError(smtpReplyCode(code), fmt.Sprintf("smtp %d", code), err)
	}
	return resilience.NewCodedError(resilience.CodeUnknown, "smtp", err)
}

func smtpReplyCode(code int) resilience.ErrorCode {
	switch {
	case code == 535 || code == 530 || code == 534:
		return resilience.CodeAuthentication
	case code == 550 || code == 551 || code == 553:
		return resilience.CodeInvalidRecipient
	case code == 421 || code == 454:
		return resilience.CodeUnavailable
	case code == 452:
		return resilience.CodeRateLimited
	case code >= 400 && code < 500:
		return resilience.CodeUnavailable
	case code >= 500 && code < 600:
		return resilience.CodeRejected
	default:
		return resilience.CodeUnknown
	}
}

func replyCodeInText(s string) (int, bool) {
	for _, field := range strings.Fields(s) {
		if len(field) != 3 {
			continue
		}
		n := 0
		for _, c := range field {
			if c < '0' || c > '9' {
				n = -1
				break
			}
			n = n*10 + int(c-'0')
		}
		if n >= 400 && n < 600 {
			return n, true
		}
	}
	return 0, false
}
