// Package health reports whether sendguard's dependencies can serve sends.
//
// A Checker reports a Status: Healthy, Degraded or Unhealthy. The package
// ships two checkers:
//
//   - PingChecker wraps anything with Ping(ctx) error, such as the SQL,
//     Redis and DynamoDB stores.
//   - BreakerChecker reports the provider circuit. An open circuit is
//     Degraded by default: replays and status queries still work while new
//     sends are rejected.
//
// # Aggregating
//
//	agg := health.NewAggregator()
//	agg.Register("store", health.NewPingChecker("store", store, time.Second))
//	agg.Register("circuit", health.NewBreakerChecker(breaker))
//
//	agg.Register("kafka", health.NewPingChecker("kafka", brokers, time.Second), health.Optional())
//
//	rep := agg.Run(ctx)
//	log.Println(rep.Status, rep.Failing())
//
// A report takes the worst status of its checks. Optional checks count at
// most as degraded.
//
// # HTTP Endpoints
//
// Mount registers the probe endpoints on a chi router:
//
//	r := chi.NewRouter()
//	health.Mount(r, agg)
//
// GET /healthz is the liveness probe, GET /readyz the readiness probe,
// GET /health the detailed report and GET /health/{name} a single check.
package health
