// Package statusapi is the HTTP surface of sendguard.
//
// Routes:
//
//	POST /v1/sends                      guarded send
//	GET  /v1/sends/{targetID}/status    attempt history and breaker state
//	GET  /v1/circuit                    breaker snapshot
//	GET  /healthz, /readyz, /health     probes (when a health aggregator is set)
//	GET  /metrics                       prometheus scrape (when a handler is set)
//
// When an authenticator is configured every /v1 route requires a
// credential; POST needs the sender role and the GET routes the viewer
// role.
package statusapi
