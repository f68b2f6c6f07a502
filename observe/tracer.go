package observe

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanCoordinate = "send.coordinate"
	SpanTransport  = "send.transport"
)

// SendMeta identifies a logical send for telemetry purposes.
type SendMeta struct {
	TargetID       string // Logical send id (required)
	Recipient      string // Recipient address; masked in telemetry
	IdempotencyKey string // Idempotency key (optional)
	Transport      string // Transport name, e.g. smtp or ses (optional)
	Attempt        int    // 1-based transport attempt, 0 when not applicable
}

// MaskedRecipient hides the local part of an address: "a***@example.com".
func (m SendMeta) MaskedRecipient() string {
	return MaskAddress(m.Recipient)
}

// MaskAddress keeps the first character and the domain of an address.
func MaskAddress(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		if addr == "" {
			return ""
		}
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

func (m SendMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("send.target_id", m.TargetID),
	}
	if m.Recipient != "" {
		attrs = append(attrs, attribute.String("send.recipient", m.MaskedRecipient()))
	}
	if m.IdempotencyKey != "" {
		attrs = append(attrs, attribute.String("send.idempotency_key", m.IdempotencyKey))
	}
	if m.Transport != "" {
		attrs = append(attrs, attribute.String("send.transport", m.Transport))
	}
	if m.Attempt > 0 {
		attrs = append(attrs, attribute.Int("send.attempt", m.Attempt))
	}
	return attrs
}

func (m SendMeta) fields() []Field {
	fields := []Field{{Key: "target_id", Value: m.TargetID}}
	if m.Recipient != "" {
		fields = append(fields, Field{Key: "recipient", Value: m.MaskedRecipient()})
	}
	if m.IdempotencyKey != "" {
		fields = append(fields, Field{Key: "idempotency_key", Value: m.IdempotencyKey})
	}
	if m.Transport != "" {
		fields = append(fields, Field{Key: "transport", Value: m.Transport})
	}
	return fields
}

// Tracer wraps OpenTelemetry tracing with send-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span named name carrying the send's attributes.
	StartSpan(ctx context.Context, name string, meta SendMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NewNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with send metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, name string, meta SendMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("send.error", false))

	kind := trace.SpanKindInternal
	if name == SpanTransport {
		kind = trace.SpanKindClient
	}

	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(kind),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("send.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, name string, meta SendMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, name)
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
