// Package idempotencytest provides a behavioral test suite that every
// idempotency.Store implementation must pass.
package idempotencytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonwraymond/sendguard/idempotency"
)

// RunStoreTests exercises the Store contract against stores produced by
// newStore. Each subtest gets a fresh store.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) idempotency.Store) {
	t.Helper()

	t.Run("GetAbsent", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Get(context.Background(), idempotency.GenerateKey("t", "r", "c"))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec != nil {
			t.Errorf("Get() = %+v, want nil", rec)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := idempotency.GenerateKey("draft-42", "a@b.com", idempotency.ContentHash([]byte("hello")))

		rec, err := s.Create(ctx, "draft-42", key)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if rec.Status != idempotency.StatusPending || rec.TargetID != "draft-42" || rec.Key != key {
			t.Errorf("Create() = %+v, want pending draft-42", rec)
		}

		if _, err := s.Create(ctx, "draft-42", key); !errors.Is(err, idempotency.ErrConflict) {
			t.Errorf("second Create() error = %v, want ErrConflict", err)
		}

		rec, err = s.Update(ctx, key, idempotency.StatusSuccess, "msg-123")
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if rec.Status != idempotency.StatusSuccess || rec.ResultID != "msg-123" {
			t.Errorf("Update() = %+v, want success msg-123", rec)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got == nil || got.Status != idempotency.StatusSuccess || got.ResultID != "msg-123" {
			t.Errorf("Get() = %+v, want success msg-123", got)
		}

		if _, err := s.Create(ctx, "draft-42", key); !errors.Is(err, idempotency.ErrConflict) {
			t.Errorf("Create() after success error = %v, want ErrConflict", err)
		}
	})

	t.Run("FailedRecordCanBeRecreated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := idempotency.GenerateKey("draft-7", "c@d.com", "h")

		mustCreate(t, s, "draft-7", key)
		if _, err := s.Update(ctx, key, idempotency.StatusFailed, "ignored"); err != nil {
			t.Fatalf("Update(failed) error = %v", err)
		}

		got, _ := s.Get(ctx, key)
		if got == nil || got.Status != idempotency.StatusFailed || got.ResultID != "" {
			t.Errorf("Get() = %+v, want failed without result id", got)
		}

		rec, err := s.Create(ctx, "draft-7", key)
		if err != nil {
			t.Fatalf("Create() after failure error = %v", err)
		}
		if rec.Status != idempotency.StatusPending {
			t.Errorf("Create() status = %s, want pending", rec.Status)
		}
	})

	t.Run("UpdateErrors", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := idempotency.GenerateKey("draft-9", "e@f.com", "h")

		if _, err := s.Update(ctx, key, idempotency.StatusSuccess, "m"); !errors.Is(err, idempotency.ErrNotFound) {
			t.Errorf("Update(absent) error = %v, want ErrNotFound", err)
		}

		mustCreate(t, s, "draft-9", key)
		if _, err := s.Update(ctx, key, idempotency.StatusPending, ""); !errors.Is(err, idempotency.ErrInvalidTransition) {
			t.Errorf("Update(pending) error = %v, want ErrInvalidTransition", err)
		}

		if _, err := s.Update(ctx, key, idempotency.StatusSuccess, "m"); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if _, err := s.Update(ctx, key, idempotency.StatusFailed, ""); !errors.Is(err, idempotency.ErrInvalidTransition) {
			t.Errorf("Update(finished) error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newStore(t)
		key := idempotency.GenerateKey("draft-race", "g@h.com", "h")

		const n = 16
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Create(context.Background(), "draft-race", key)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, idempotency.ErrConflict):
					conflicts.Add(1)
				default:
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Create() unexpected error = %v", err)
		}
		if wins.Load() != 1 || conflicts.Load() != n-1 {
			t.Errorf("wins = %d, conflicts = %d; want 1, %d", wins.Load(), conflicts.Load(), n-1)
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			key := idempotency.GenerateKey(fmt.Sprintf("draft-%d", i), "x@y.com", "h")
			mustCreate(t, s, fmt.Sprintf("draft-%d", i), key)
		}
		for i := 0; i < 5; i++ {
			key := idempotency.GenerateKey(fmt.Sprintf("draft-%d", i), "x@y.com", "h")
			rec, err := s.Get(ctx, key)
			if err != nil || rec == nil || rec.TargetID != fmt.Sprintf("draft-%d", i) {
				t.Errorf("Get(%d) = %+v, %v", i, rec, err)
			}
		}
	})
}

func mustCreate(t *testing.T, s idempotency.Store, targetID, key string) {
	t.Helper()
	if _, err := s.Create(context.Background(), targetID, key); err != nil {
		t.Fatalf("Create(%s) error = %v", targetID, err)
	}
}
