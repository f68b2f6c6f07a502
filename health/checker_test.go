package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatus_Text(t *testing.T) {
	for status, want := range map[Status]string{
		StatusHealthy:   "healthy",
		StatusDegraded:  "degraded",
		StatusUnhealthy: "unhealthy",
		Status(42):      "unknown",
	} {
		if got := status.String(); got != want {
			t.Errorf("String() = %v, want %v", got, want)
		}
		if text, _ := status.MarshalText(); string(text) != want {
			t.Errorf("MarshalText() = %s, want %v", text, want)
		}
	}
}

func TestStatus_Worse(t *testing.T) {
	tests := []struct{ a, b, want Status }{
		{StatusHealthy, StatusDegraded, StatusDegraded},
		{StatusUnhealthy, StatusDegraded, StatusUnhealthy},
		{StatusHealthy, StatusHealthy, StatusHealthy},
	}
	for _, tt := range tests {
		if got := tt.a.Worse(tt.b); got != tt.want {
			t.Errorf("%v.Worse(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestResult_Builders(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	r := Unhealthy("store unreachable", cause).
		WithDetails(map[string]any{"latency_ms": 3}).
		WithDuration(50 * time.Millisecond)

	if r.Status != StatusUnhealthy || !errors.Is(r.Error, cause) {
		t.Errorf("result = %+v", r)
	}
	if r.Details["latency_ms"] != 3 || r.Duration != 50*time.Millisecond {
		t.Errorf("details/duration = %v/%v", r.Details, r.Duration)
	}
	if r.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if Healthy("ok").Error != nil || Degraded("open").Status != StatusDegraded {
		t.Error("constructor mismatch")
	}
}

func TestNamed(t *testing.T) {
	c := Named("store", func(ctx context.Context) Result {
		if err := ctx.Err(); err != nil {
			return Unhealthy("canceled", err)
		}
		return Healthy("ok")
	})
	if c.Name() != "store" {
		t.Errorf("Name() = %v", c.Name())
	}
	if got := c.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Check() = %v", got.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := c.Check(ctx); got.Status != StatusUnhealthy {
		t.Errorf("Check(canceled) = %v", got.Status)
	}
}
