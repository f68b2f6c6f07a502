// Package sender coordinates guarded outbound sends.
//
// A Coordinator composes the circuit breaker, the idempotency store, the
// attempt ledger and the retry executor around a transport so that a
// logical send is delivered at most once, transient provider failures are
// retried with backoff, and an unhealthy provider is not hammered.
//
// # Sequence
//
// For each Send:
//
//  1. An open circuit rejects the call before any storage is touched.
//  2. A Success record for the idempotency key is replayed without sending.
//  3. A target the ledger already shows as delivered is rejected, unless
//     the request is forced.
//  4. A Pending record means another call owns the send.
//  5. A Pending record is created; losing that race is treated as step 2 or 4.
//  6. The transport runs under the retry executor and the per-call guard.
//  7. The record, the breaker and the ledger are updated. All three updates
//     run; their failures are reported next to the send result, never
//     instead of it.
//
// Errors are returned as *Error with a closed Kind that maps to an HTTP
// status.
package sender
