package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/jonwraymond/sendguard/resilience"
)

// SESAPI is the subset of *sesv2.Client used by SESTransport.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures an SESTransport.
type SESConfig struct {
	Region string
	From   Sender

	// ConfigurationSet is passed through to SES when set.
	ConfigurationSet string
}

// SESTransport sends raw MIME messages through Amazon SES v2.
type SESTransport struct {
	api    SESAPI
	from   Sender
	cfgSet string
}

// NewSESClient loads the default AWS configuration with SDK-level retries
// disabled, so the retry executor is the only source of retries.
func NewSESClient(ctx context.Context, region string) (*sesv2.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: load aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	}), nil
}

// NewSESTransport creates a transport on api.
func NewSESTransport(api SESAPI, cfg SESConfig) (*SESTransport, error) {
	if api == nil {
		return nil, errors.New("transport: ses client is required")
	}
	if cfg.From.Address == "" {
		return nil, errors.New("transport: ses sender address is required")
	}
	return &SESTransport{api: api, from: cfg.From, cfgSet: cfg.ConfigurationSet}, nil
}

// Name returns "ses".
func (t *SESTransport) Name() string { return "ses" }

// Send submits msg as a raw message. The returned id is the SES message id.
func (t *SESTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}

	raw, err := renderMIME(t.from, msg, NewMessageID(domainOf(t.from.Address)))
	if err != nil {
		return Receipt{}, resilience.NewCodedError(resilience.CodeInvalidRequest, "ses", err)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from.Address),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	}
	if t.cfgSet != "" {
		in.ConfigurationSetName = aws.String(t.cfgSet)
	}

	out, err := t.api.SendEmail(ctx, in)
	if err != nil {
		return Receipt{}, classifySES(err)
	}
	return Receipt{MessageID: aws.ToString(out.MessageId)}, nil
}

func classifySES(err error) error {
	var (
		tooMany    *types.TooManyRequestsException
		limit      *types.LimitExceededException
		rejected   *types.MessageRejected
		notVerif   *types.MailFromDomainNotVerifiedException
		paused     *types.SendingPausedException
		suspended  *types.AccountSuspendedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
	)

	code := resilience.CodeUnknown
	switch {
	case errors.As(err, &tooMany), errors.As(err, &limit):
		code = resilience.CodeRateLimited
	case errors.As(err, &rejected), errors.As(err, &notVerif):
		code = resilience.CodeRejected
	case errors.As(err, &paused), errors.As(err, &suspended):
		code = resilience.CodeUnavailable
	case errors.As(err, &badRequest), errors.As(err, &notFound):
		code = resilience.CodeInvalidRequest
	default:
		if c, ok := classifyNetwork(err); ok {
			code = c
		}
	}
	return resilience.NewCodedError(code, "ses", err)
}
