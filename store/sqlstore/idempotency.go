package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/jonwraymond/sendguard/idempotency"
)

var _ idempotency.Store = (*Store)(nil)

const selectRecord = `SELECT idem_key, target_id, status, result_id, created_at_ms, updated_at_ms
FROM idempotency_records WHERE idem_key = ?`

// Get returns the record for key, or nil when absent or expired.
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.policy.Expired(rec, s.now()) {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) load(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		rec       idempotency.Record
		status    string
		createdMs int64
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectRecord), key).
		Scan(&rec.Key, &rec.TargetID, &status, &rec.ResultID, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s: %w", key, err)
	}

	st, err := idempotency.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	rec.CreatedAt = fromMillis(createdMs)
	rec.UpdatedAt = fromMillis(updatedMs)
	return &rec, nil
}

// Create inserts a Pending record. The upsert only overwrites Failed rows and
// Success rows past retention, so concurrent creators race on a single row
// and exactly one of them affects it.
func (s *Store) Create(ctx context.Context, targetID, key string) (*idempotency.Record, error) {
	now := s.now()
	cutoff := int64(math.MinInt64)
	if s.policy.Retention > 0 {
		cutoff = toMillis(now.Add(-s.policy.Retention))
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO idempotency_records (idem_key, target_id, status, result_id, created_at_ms, updated_at_ms)
VALUES (?, ?, 'pending', '', ?, ?)
ON CONFLICT (idem_key) DO UPDATE SET
    target_id = excluded.target_id,
    status = excluded.status,
    result_id = '',
    created_at_ms = excluded.created_at_ms,
    updated_at_ms = excluded.updated_at_ms
WHERE idempotency_records.status = 'failed'
   OR (idempotency_records.status = 'success' AND idempotency_records.updated_at_ms <= ?)`),
		key, targetID, toMillis(now), toMillis(now), cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: create %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: create %s: %w", key, err)
	}
	if n == 0 {
		existing, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := idempotency.CheckCreate(existing); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrConflict, key)
	}

	rec := idempotency.NewPending(targetID, key, fromMillis(toMillis(now)))
	return rec, nil
}

// Update finishes the Pending record for key.
func (s *Store) Update(ctx context.Context, key string, status idempotency.Status, resultID string) (*idempotency.Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: target status %q is not terminal", idempotency.ErrInvalidTransition, status)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE idempotency_records SET status = ?, result_id = ?, updated_at_ms = ?
WHERE idem_key = ? AND status = 'pending'`),
		string(status), idempotency.ResultFor(status, resultID), toMillis(s.now()), key)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: update %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: update %s: %w", key, err)
	}

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if err := idempotency.CheckUpdate(key, rec, status); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrInvalidTransition, key)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrNotFound, key)
	}
	return rec, nil
}

// Prune deletes finished records older than the retention window and
// returns how many were removed. It is a no-op without retention.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.policy.Retention <= 0 {
		return 0, nil
	}
	cutoff := toMillis(s.now().Add(-s.policy.Retention))
	res, err := s.db.ExecContext(ctx, s.rebind(`
DELETE FROM idempotency_records WHERE status <> 'pending' AND updated_at_ms <= ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune: %w", err)
	}
	return res.RowsAffected()
}
