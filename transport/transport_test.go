package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
)

func testMessage() Message {
	return Message{
		Recipient: "customer@example.com",
		Subject:   "Re: [#1234] printer on fire",
		TextBody:  "We replaced the toner.",
		HTMLBody:  "<p>We replaced the toner.</p>",
		Headers:   map[string]string{"In-Reply-To": "<ticket-1234@example.com>"},
	}
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []*gomail.Message
	err   error
	delay time.Duration
}

func (f *fakeMailer) Send(ctx context.Context, m *gomail.Message) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func TestMessage_ContentHash(t *testing.T) {
	a := testMessage()
	b := testMessage()
	b.Recipient = "other@example.com"
	assert.Equal(t, a.ContentHash(), b.ContentHash(), "recipient is not content")

	b.Subject = "different"
	assert.NotEqual(t, a.ContentHash(), b.ContentHash())

	c := testMessage()
	c.Attachments = []Attachment{{Filename: "log.txt", Data: []byte("x")}}
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		code resilience.ErrorCode
	}{
		{"missing recipient", Message{TextBody: "x"}, resilience.CodeInvalidRecipient},
		{"not an address", Message{Recipient: "bob", TextBody: "x"}, resilience.CodeInvalidRecipient},
		{"no body", Message{Recipient: "a@b.com"}, resilience.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, resilience.CodeOf(err))
			assert.False(t, tt.code.Retryable())
		})
	}
	assert.NoError(t, testMessage().Validate())
}

func TestFuncAndName(t *testing.T) {
	var tr Transport = Func(func(ctx context.Context, msg Message) (Receipt, error) {
		return Receipt{MessageID: "fn-1"}, nil
	})
	r, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "fn-1", r.MessageID)
	assert.Equal(t, "custom", Name(tr))
	assert.Equal(t, "log", Name(NewLogTransport(nil, "")))
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("support.example.com")
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@support.example.com>"))
	assert.NotEqual(t, id, NewMessageID("support.example.com"))
	assert.Contains(t, NewMessageID(""), "@sendguard.local>")
}

func TestRenderMIME(t *testing.T) {
	msg := testMessage()
	msg.Attachments = []Attachment{{Filename: "report.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")}}

	raw, err := renderMIME(Sender{Address: "support@example.com", Name: "Support"}, msg, "<id-1@example.com>")
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "Message-ID: <id-1@example.com>")
	assert.Contains(t, s, "To: customer@example.com")
	assert.Contains(t, s, "In-Reply-To: <ticket-1234@example.com>")
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, `filename="report.csv"`)
}

func TestSMTPTransport_Send(t *testing.T) {
	m := &fakeMailer{}
	tr := NewSMTPTransportWithMailer(m, SMTPConfig{Host: "relay", From: Sender{Address: "support@example.com"}})

	r, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Contains(t, r.MessageID, "@example.com>")

	require.Len(t, m.sent, 1)
	assert.Equal(t, []string{r.MessageID}, m.sent[0].GetHeader("Message-ID"))
	assert.Equal(t, "smtp", tr.Name())
	assert.Equal(t, "relay", tr.Host())
}

func TestSMTPTransport_InvalidMessageNotSent(t *testing.T) {
	m := &fakeMailer{}
	tr := NewSMTPTransportWithMailer(m, SMTPConfig{From: Sender{Address: "support@example.com"}})

	_, err := tr.Send(context.Background(), Message{Recipient: "x@y.z"})
	assert.Equal(t, resilience.CodeInvalidRequest, resilience.CodeOf(err))
	assert.Empty(t, m.sent)
}

func TestSMTPTransport_ContextDeadline(t *testing.T) {
	m := &fakeMailer{delay: 200 * time.Millisecond}
	tr := NewSMTPTransportWithMailer(m, SMTPConfig{From: Sender{Address: "support@example.com"}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, testMessage())
	assert.Equal(t, resilience.CodeTimeout, resilience.CodeOf(err))
}

func TestNewSMTPTransport_Validation(t *testing.T) {
	_, err := NewSMTPTransport(SMTPConfig{From: Sender{Address: "a@b.com"}})
	assert.Error(t, err)
	_, err = NewSMTPTransport(SMTPConfig{Host: "relay"})
	assert.Error(t, err)

	tr, err := NewSMTPTransport(SMTPConfig{Host: "relay", From: Sender{Address: "a@b.com"}})
	require.NoError(t, err)
	assert.Equal(t, "b.com", tr.idDomain)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifySMTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want resilience.ErrorCode
	}{
		{"auth", &textproto.Error{Code: 535, Msg: "5.7.8 bad credentials"}, resilience.CodeAuthentication},
		{"unknown user", &textproto.Error{Code: 550, Msg: "5.1.1 no such user"}, resilience.CodeInvalidRecipient},
		{"bad mailbox syntax", &textproto.Error{Code: 553, Msg: "mailbox name invalid"}, resilience.CodeInvalidRecipient},
		{"service closing", &textproto.Error{Code: 421, Msg: "try later"}, resilience.CodeUnavailable},
		{"greylisted", &textproto.Error{Code: 451, Msg: "greylisted"}, resilience.CodeUnavailable},
		{"too many", &textproto.Error{Code: 452, Msg: "too many recipients"}, resilience.CodeRateLimited},
		{"content", &textproto.Error{Code: 554, Msg: "spam"}, resilience.CodeRejected},
		{"flattened", errors.New("gomail: could not send email 1: 550 5.1.1 unknown user"), resilience.CodeInvalidRecipient},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, resilience.CodeConnection},
		{"timeout", fmt.Errorf("wrapped: %w", timeoutErr{}), resilience.CodeTimeout},
		{"eof", fmt.Errorf("read: %w", errors.New("EOF")), resilience.CodeUnknown},
		{"deadline", context.DeadlineExceeded, resilience.CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySMTP(tt.err)
			assert.Equal(t, tt.want, resilience.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("0100018f-ses-id")}, nil
}

func TestSESTransport_Send(t *testing.T) {
	api := &fakeSES{}
	tr, err := NewSESTransport(api, SESConfig{From: Sender{Address: "support@example.com"}, ConfigurationSet: "tickets"})
	require.NoError(t, err)

	r, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "0100018f-ses-id", r.MessageID)

	require.NotNil(t, api.in)
	assert.Equal(t, []string{"customer@example.com"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "tickets", aws.ToString(api.in.ConfigurationSetName))
	assert.True(t, bytes.Contains(api.in.Content.Raw.Data, []byte("Subject: Re: [#1234] printer on fire")))
}

func TestSESTransport_Classification(t *testing.T) {
	tests := []struct {
		err  error
		want resilience.ErrorCode
	}{
		{&types.TooManyRequestsException{}, resilience.CodeRateLimited},
		{&types.LimitExceededException{}, resilience.CodeRateLimited},
		{&types.MessageRejected{}, resilience.CodeRejected},
		{&types.MailFromDomainNotVerifiedException{}, resilience.CodeRejected},
		{&types.SendingPausedException{}, resilience.CodeUnavailable},
		{&types.AccountSuspendedException{}, resilience.CodeUnavailable},
		{&types.BadRequestException{}, resilience.CodeInvalidRequest},
		{context.DeadlineExceeded, resilience.CodeTimeout},
		{errors.New("boom"), resilience.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			tr, err := NewSESTransport(&fakeSES{err: tt.err}, SESConfig{From: Sender{Address: "a@b.com"}})
			require.NoError(t, err)

			_, err = tr.Send(context.Background(), testMessage())
			assert.Equal(t, tt.want, resilience.CodeOf(err))
		})
	}
}

func TestNewSESTransport_Validation(t *testing.T) {
	_, err := NewSESTransport(nil, SESConfig{From: Sender{Address: "a@b.com"}})
	assert.Error(t, err)
	_, err = NewSESTransport(&fakeSES{}, SESConfig{})
	assert.Error(t, err)
}

func TestLogTransport(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTransport(observe.NewLoggerWithWriter("info", &buf), "example.com")

	r, err := tr.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Contains(t, r.MessageID, "@example.com>")
	assert.Contains(t, buf.String(), r.MessageID)
	assert.Contains(t, buf.String(), "c***@example.com")
	assert.NotContains(t, buf.String(), "customer@example.com")
}
