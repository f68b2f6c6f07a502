package health_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/sendguard/health"
	"github.com/jonwraymond/sendguard/resilience"
)

type fakeStore struct{ err error }

func (s fakeStore) Ping(context.Context) error { return s.err }

func ExampleNewPingChecker() {
	up := health.NewPingChecker("store", fakeStore{}, time.Second)
	down := health.NewPingChecker("redis", fakeStore{err: errors.New("dial tcp: refused")}, time.Second)

	fmt.Println(up.Check(context.Background()).Status)
	r := down.Check(context.Background())
	fmt.Println(r.Status, r.Message)
	// Output:
	// healthy
	// unhealthy redis unreachable
}

func ExampleNewBreakerChecker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	checker := health.NewBreakerChecker(cb)

	fmt.Println(checker.Check(context.Background()).Status)
	cb.RecordFailure()
	fmt.Println(checker.Check(context.Background()).Message)
	// Output:
	// healthy
	// circuit open: sends are rejected
}

func ExampleAggregator_Run() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	cb.RecordFailure()

	agg := health.NewAggregator()
	agg.Register("store", health.NewPingChecker("store", fakeStore{}, time.Second))
	agg.Register("circuit", health.NewBreakerChecker(cb))

	rep := agg.Run(context.Background())
	fmt.Println(rep.Status, rep.Failing())
	// Output:
	// degraded [circuit]
}

func ExampleMount() {
	agg := health.NewAggregator()
	agg.Register("store", health.NewPingChecker("store", fakeStore{}, time.Second))

	r := chi.NewRouter()
	health.Mount(r, agg)

	for _, path := range []string{"/healthz", "/readyz", "/health/store", "/health/nope"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		fmt.Println(path, rec.Code)
	}
	// Output:
	// /healthz 200
	// /readyz 200
	// /health/store 200
	// /health/nope 404
}
