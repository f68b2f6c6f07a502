package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracer(tp.Tracer("test")), rec
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestTracer_StartSpanAttributes(t *testing.T) {
	tracer, rec := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), SpanCoordinate, SendMeta{
		TargetID:       "draft-42",
		Recipient:      "alice@example.com",
		IdempotencyKey: "idem:abc",
	})
	tracer.EndSpan(span, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != SpanCoordinate {
		t.Errorf("name = %q, want %q", s.Name(), SpanCoordinate)
	}
	if s.SpanKind() != trace.SpanKindInternal {
		t.Errorf("kind = %v, want internal", s.SpanKind())
	}

	attrs := attrMap(s.Attributes())
	if attrs["send.target_id"].AsString() != "draft-42" {
		t.Errorf("send.target_id = %v", attrs["send.target_id"])
	}
	if attrs["send.recipient"].AsString() != "a***@example.com" {
		t.Errorf("send.recipient = %v, want masked", attrs["send.recipient"])
	}
	if attrs["send.error"].AsBool() {
		t.Error("send.error = true on success")
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want ok", s.Status().Code)
	}
}

func TestTracer_TransportSpanIsClient(t *testing.T) {
	tracer, rec := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), SpanTransport, SendMeta{TargetID: "t", Attempt: 2})
	tracer.EndSpan(span, nil)

	s := rec.Ended()[0]
	if s.SpanKind() != trace.SpanKindClient {
		t.Errorf("kind = %v, want client", s.SpanKind())
	}
	if got := attrMap(s.Attributes())["send.attempt"].AsInt64(); got != 2 {
		t.Errorf("send.attempt = %d, want 2", got)
	}
}

func TestTracer_EndSpanRecordsError(t *testing.T) {
	tracer, rec := newRecordingTracer()

	_, span := tracer.StartSpan(context.Background(), SpanTransport, SendMeta{TargetID: "t"})
	tracer.EndSpan(span, errors.New("421 try again later"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	if !attrMap(s.Attributes())["send.error"].AsBool() {
		t.Error("send.error = false on failure")
	}
	if len(s.Events()) == 0 {
		t.Error("error event not recorded")
	}
}

func TestNewTracer_NilFallsBackToNoop(t *testing.T) {
	tracer := NewTracer(nil)
	_, span := tracer.StartSpan(context.Background(), SpanCoordinate, SendMeta{})
	tracer.EndSpan(span, nil)
}
