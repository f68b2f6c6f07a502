// Package idempotency tracks the outcome of logical sends by a deterministic
// key so that a repeated request never reaches the provider twice.
//
// Keys are derived from facts the caller already has (target id, recipient
// and a hash of the content), never from random tokens, so a retry after a
// restart computes the same key. A Store holds at most one Record per key.
// A record is created Pending right before the first attempt and moves to
// Success or Failed exactly once.
//
// Implementations must make Create and Update atomic per key: that
// guarantee is the only thing standing between two concurrent duplicates
// and a double send. MemoryStore stripes its lock table; the persistent
// stores under store/ rely on compare-and-insert in the backing database.
package idempotency
