package idempotency_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/sendguard/idempotency"
)

func ExampleMemoryStore() {
	store := idempotency.NewMemoryStore(idempotency.DefaultPolicy())
	ctx := context.Background()

	key := idempotency.GenerateKey("draft-42", "a@b.com", idempotency.ContentHash([]byte("hello")))

	rec, _ := store.Create(ctx, "draft-42", key)
	fmt.Println("created:", rec.Status)

	_, err := store.Create(ctx, "draft-42", key)
	fmt.Println("duplicate conflicts:", errors.Is(err, idempotency.ErrConflict))

	_, _ = store.Update(ctx, key, idempotency.StatusSuccess, "msg-123")

	rec, _ = store.Get(ctx, key)
	fmt.Println("replay:", rec.Status, rec.ResultID)
	// Output:
	// created: pending
	// duplicate conflicts: true
	// replay: success msg-123
}

func ExampleGenerateKey() {
	a := idempotency.GenerateKey("draft-42", "a@b.com", idempotency.ContentHash([]byte("hello")))
	b := idempotency.GenerateKey("draft-42", "a@b.com", idempotency.ContentHash([]byte("hello")))

	fmt.Println(a == b, a[:5])
	// Output:
	// true idem:
}
