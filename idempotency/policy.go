package idempotency

import "time"

// Policy configures record retention for stores that support it.
type Policy struct {
	// Retention is how long finished (Success or Failed) records are kept
	// after their last update. Pending records are never evicted.
	// If zero, records are kept forever.
	Retention time.Duration
}

// DefaultPolicy returns the default policy: keep every record.
func DefaultPolicy() Policy {
	return Policy{}
}

// RetentionPolicy returns a policy that evicts finished records after d.
func RetentionPolicy(d time.Duration) Policy {
	return Policy{Retention: d}
}

// Expired reports whether r may be evicted at now.
func (p Policy) Expired(r *Record, now time.Time) bool {
	if p.Retention <= 0 || r == nil || !r.Status.Terminal() {
		return false
	}
	return now.Sub(r.UpdatedAt) >= p.Retention
}
