// Package ledgertest provides a behavioral test suite for ledger.Ledger
// implementations.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/sendguard/ledger"
)

// RunLedgerTests exercises the Ledger contract. Each subtest gets a fresh
// ledger from newLedger.
func RunLedgerTests(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	t.Helper()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("EmptyTarget", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		list, err := l.ListByTarget(ctx, "nobody")
		if err != nil {
			t.Fatalf("ListByTarget() error = %v", err)
		}
		if len(list) != 0 {
			t.Errorf("ListByTarget() = %v, want empty", list)
		}
		ok, err := l.HasSuccessfulSend(ctx, "nobody")
		if err != nil || ok {
			t.Errorf("HasSuccessfulSend() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("ChronologicalHistory", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		attempts := []ledger.Attempt{
			{ID: "a1", TargetID: "draft-1", AttemptNumber: 3, Timestamp: base, ErrorCode: "connection", ErrorMessage: "reset", RetriedErrors: []string{"reset", "reset", "reset"}},
			{ID: "a2", TargetID: "draft-1", AttemptNumber: 1, Timestamp: base.Add(time.Minute), Success: true, MessageID: "msg-1", ResponseTimeMs: 42},
			{ID: "b1", TargetID: "draft-2", AttemptNumber: 1, Timestamp: base, ErrorCode: "rejected"},
		}
		for _, a := range attempts {
			if err := l.Record(ctx, a); err != nil {
				t.Fatalf("Record(%s) error = %v", a.ID, err)
			}
		}

		list, err := l.ListByTarget(ctx, "draft-1")
		if err != nil {
			t.Fatalf("ListByTarget() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != "a1" || list[1].ID != "a2" {
			t.Fatalf("ListByTarget() = %+v, want [a1 a2]", list)
		}
		if list[1].MessageID != "msg-1" || list[1].ResponseTimeMs != 42 {
			t.Errorf("success attempt = %+v", list[1])
		}
		if len(list[0].RetriedErrors) != 3 {
			t.Errorf("RetriedErrors = %v, want 3 entries", list[0].RetriedErrors)
		}
		if !list[0].Timestamp.Equal(base) {
			t.Errorf("Timestamp = %v, want %v", list[0].Timestamp, base)
		}

		if ok, _ := l.HasSuccessfulSend(ctx, "draft-1"); !ok {
			t.Error("HasSuccessfulSend(draft-1) = false, want true")
		}
		if ok, _ := l.HasSuccessfulSend(ctx, "draft-2"); ok {
			t.Error("HasSuccessfulSend(draft-2) = true, want false")
		}
	})

	t.Run("ConcurrentRecord", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a := ledger.Attempt{
					ID:            fmt.Sprintf("c%d", i),
					TargetID:      "draft-c",
					AttemptNumber: 1,
					Timestamp:     base.Add(time.Duration(i) * time.Second),
				}
				if err := l.Record(ctx, a); err != nil {
					t.Errorf("Record() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		list, err := l.ListByTarget(ctx, "draft-c")
		if err != nil {
			t.Fatalf("ListByTarget() error = %v", err)
		}
		if len(list) != n {
			t.Fatalf("len = %d, want %d", len(list), n)
		}
		for i := 1; i < len(list); i++ {
			if list[i].Timestamp.Before(list[i-1].Timestamp) {
				t.Fatalf("attempts out of order at %d", i)
			}
		}
	})
}
