package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuard_NilCallsThrough(t *testing.T) {
	var g *Guard
	called := false
	if err := g.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	}); err != nil || !called {
		t.Fatalf("Do() = %v, called = %v", err, called)
	}
	if cfg := g.Config(); cfg.Timeout != 0 || cfg.Limiter != nil || cfg.Bulkhead != nil {
		t.Errorf("Config() = %+v, want zero", cfg)
	}
}

func TestGuard_PassesOpError(t *testing.T) {
	g := NewGuard(GuardConfig{Timeout: time.Second})
	want := NewCodedError(CodeInvalidRecipient, "550 no such user", nil)

	err := g.Do(context.Background(), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("Do() = %v, want %v", err, want)
	}
}

func TestGuard_Rejections(t *testing.T) {
	full := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	_ = full.Acquire(context.Background())

	empty := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})
	empty.Allow()

	tests := []struct {
		name     string
		cfg      GuardConfig
		wantErr  error
		wantCode ErrorCode
	}{
		{"rate limited", GuardConfig{Limiter: empty}, ErrRateLimitExceeded, CodeRateLimited},
		{"bulkhead full", GuardConfig{Bulkhead: full}, ErrBulkheadFull, CodeThrottled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := NewGuard(tt.cfg).Do(context.Background(), func(context.Context) error {
				called = true
				return nil
			})
			if called {
				t.Error("op ran despite rejection")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() = %v, want %v", err, tt.wantErr)
			}
			if code := CodeOf(err); code != tt.wantCode || !code.Retryable() {
				t.Errorf("CodeOf() = %v, want retryable %v", code, tt.wantCode)
			}
		})
	}
}

func TestGuard_ReleasesBulkheadSlot(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	g := NewGuard(GuardConfig{Bulkhead: bh})

	for i := 0; i < 3; i++ {
		if err := g.Do(context.Background(), func(context.Context) error {
			return errors.New("boom")
		}); CodeOf(err) == CodeThrottled {
			t.Fatalf("call %d throttled; slot leaked", i+1)
		}
	}
	if st := bh.Stats(); st.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", st.InFlight)
	}
}

func TestGuard_TimeoutHoldsBulkheadSlot(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 5 * time.Second})
	g := NewGuard(GuardConfig{Timeout: 10 * time.Millisecond, Bulkhead: bh})

	var running, peak atomic.Int32
	op := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		running.Add(-1)
		return errors.New("connection reset")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Do(context.Background(), op); CodeOf(err) != CodeTimeout {
				t.Errorf("Do() = %v, want CodeTimeout", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("peak in flight = %d, want 1", p)
	}
	if st := bh.Stats(); st.Peak != 1 || st.InFlight != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCallWithDeadline(t *testing.T) {
	t.Run("completes in time", func(t *testing.T) {
		err := CallWithDeadline(context.Background(), time.Second, func(context.Context) error { return nil })
		if err != nil {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("respects context", func(t *testing.T) {
		err := CallWithDeadline(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.Is(err, ErrTimeout) || CodeOf(err) != CodeTimeout {
			t.Errorf("err = %v, want CodeTimeout", err)
		}
	})

	t.Run("waits for a call that ignores its context", func(t *testing.T) {
		var finished atomic.Bool
		start := time.Now()
		err := CallWithDeadline(context.Background(), 10*time.Millisecond, func(context.Context) error {
			time.Sleep(60 * time.Millisecond)
			finished.Store(true)
			return errors.New("421 relay busy")
		})
		if !finished.Load() {
			t.Fatal("returned while the call was still running")
		}
		if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
			t.Errorf("returned after %v, before the call finished", elapsed)
		}
		if !errors.Is(err, ErrTimeout) || CodeOf(err) != CodeTimeout {
			t.Errorf("err = %v, want CodeTimeout", err)
		}
	})

	t.Run("late success is a success", func(t *testing.T) {
		err := CallWithDeadline(context.Background(), 10*time.Millisecond, func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		})
		if err != nil {
			t.Errorf("err = %v, want nil for a call that completed", err)
		}
	})

	t.Run("parent canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := CallWithDeadline(ctx, time.Second, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
