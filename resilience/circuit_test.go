package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, threshold int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
		Now:              clock.Now,
	})
}

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
	if cb.IsOpen() {
		t.Error("IsOpen() = true on a new breaker")
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.Cooldown != 60*time.Second {
		t.Errorf("Cooldown = %v, want 60s", cb.config.Cooldown)
	}
	if cb.config.MaxCooldown != 10*time.Minute {
		t.Errorf("MaxCooldown = %v, want 10m", cb.config.MaxCooldown)
	}
	if cb.config.CooldownMultiplier != 2.0 {
		t.Errorf("CooldownMultiplier = %v, want 2", cb.config.CooldownMultiplier)
	}
	if cb.config.HalfOpenMaxProbes != 1 {
		t.Errorf("HalfOpenMaxProbes = %d, want 1", cb.config.HalfOpenMaxProbes)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 5)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.IsOpen() {
			t.Fatalf("IsOpen() = true after %d failures, want false", i+1)
		}
	}

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("IsOpen() = false after 5 failures, want true")
	}

	status := cb.Status()
	if status.State != StateOpen {
		t.Errorf("State = %v, want open", status.State)
	}
	if status.Failures != 5 {
		t.Errorf("Failures = %d, want 5", status.Failures)
	}
	if status.NextProbeAt == nil || !status.NextProbeAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("NextProbeAt = %v, want now+1m", status.NextProbeAt)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 3)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.IsOpen() {
		t.Error("IsOpen() = true, want false: failures are consecutive only")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1)

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("IsOpen() = false, want true")
	}

	clock.Advance(59 * time.Second)
	if !cb.IsOpen() {
		t.Fatal("IsOpen() = false before cooldown elapsed")
	}

	clock.Advance(time.Second)
	if cb.IsOpen() {
		t.Fatal("IsOpen() = true at nextProbeAt, want false for the probe")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State = %v, want half-open", cb.State())
	}

	// Probe budget is used up.
	if !cb.IsOpen() {
		t.Error("second IsOpen() in half-open = false, want true")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("State after probe success = %v, want closed", cb.State())
	}
	if got := cb.Status().Failures; got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
}

func TestCircuitBreaker_FailedProbeGrowsCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		MaxCooldown:      3 * time.Minute,
		Now:              clock.Now,
	})

	cb.RecordFailure()

	wantCooldowns := []time.Duration{2 * time.Minute, 3 * time.Minute, 3 * time.Minute}
	for i, want := range wantCooldowns {
		clock.Advance(cb.Status().Cooldown)
		if cb.IsOpen() {
			t.Fatalf("round %d: IsOpen() = true after cooldown", i)
		}
		cb.RecordFailure()

		status := cb.Status()
		if status.State != StateOpen {
			t.Fatalf("round %d: State = %v, want open", i, status.State)
		}
		if status.Cooldown != want {
			t.Errorf("round %d: Cooldown = %v, want %v", i, status.Cooldown, want)
		}
		if status.CooldownMs != want.Milliseconds() {
			t.Errorf("round %d: CooldownMs = %d, want %d", i, status.CooldownMs, want.Milliseconds())
		}
	}

	clock.Advance(3 * time.Minute)
	_ = cb.IsOpen()
	cb.RecordSuccess()
	if got := cb.Status().Cooldown; got != time.Minute {
		t.Errorf("Cooldown after recovery = %v, want 1m", got)
	}
}

func TestCircuitBreaker_SingleProbeUnderContention(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1)
	cb.RecordFailure()
	clock.Advance(time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cb.IsOpen() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted probes = %d, want 1", got)
	}
}

func TestCircuitBreaker_AllowReportsProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1)

	if probe, allowed := cb.Allow(); probe || !allowed {
		t.Fatalf("closed Allow() = %v, %v; want false, true", probe, allowed)
	}

	cb.RecordFailure()
	if _, allowed := cb.Allow(); allowed {
		t.Fatal("open circuit admitted a call before cooldown")
	}

	clock.Advance(time.Minute)
	if probe, allowed := cb.Allow(); !probe || !allowed {
		t.Fatalf("Allow() after cooldown = %v, %v; want true, true", probe, allowed)
	}
	if _, allowed := cb.Allow(); allowed {
		t.Fatal("second caller admitted while probe in flight")
	}
}

func TestCircuitBreaker_ReleaseProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1)

	cb.RecordFailure()
	clock.Advance(time.Minute)

	if cb.IsOpen() {
		t.Fatal("probe not admitted")
	}
	cb.ReleaseProbe()

	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	if cb.IsOpen() {
		t.Fatal("released slot not handed to the next caller")
	}

	// Releasing in closed state is a no-op.
	cb.RecordSuccess()
	cb.ReleaseProbe()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.RecordFailure()
	clock.Advance(time.Second)
	_ = cb.IsOpen()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 2)
	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
		if err != testErr {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1)
	cb.RecordFailure()

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("State after Reset = %v, want closed", cb.State())
	}
	status := cb.Status()
	if status.OpenedAt != nil || status.NextProbeAt != nil {
		t.Errorf("Status after Reset = %+v, want no timestamps", status)
	}
}

func TestState_MarshalText(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		got, err := tt.state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalText(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_UnmarshalText(t *testing.T) {
	for _, want := range []State{StateClosed, StateOpen, StateHalfOpen} {
		text, _ := want.MarshalText()
		var got State
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", text, got, want)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("ajar")); err == nil {
		t.Error("UnmarshalText(ajar) should fail")
	}
}
