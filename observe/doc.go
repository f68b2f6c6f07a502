// Package observe provides observability primitives for outbound sends.
//
// It bundles OpenTelemetry tracing and metrics with a zap-backed structured
// logger. Nothing here performs I/O beyond exporter setup; the sender
// package wires an Observer into the coordinator and transport calls.
//
// Spans: send.coordinate per logical send, send.transport per attempt.
// Instruments: send.requests, send.duration_ms, send.attempts,
// send.transport.calls, send.transport.duration_ms, send.bookkeeping.errors
// and circuit.transitions.
//
// Recipient addresses are masked and message content keys are redacted
// before anything reaches a log line or span attribute.
package observe
