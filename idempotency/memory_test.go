package idempotency_test

import (
	"testing"
	"time"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/idempotency/idempotencytest"
)

func TestMemoryStore_Contract(t *testing.T) {
	idempotencytest.RunStoreTests(t, func(t *testing.T) idempotency.Store {
		return idempotency.NewMemoryStore(idempotency.DefaultPolicy())
	})
}

func TestMemoryStore_RetentionContract(t *testing.T) {
	idempotencytest.RunStoreTests(t, func(t *testing.T) idempotency.Store {
		return idempotency.NewMemoryStore(idempotency.RetentionPolicy(24 * time.Hour))
	})
}
