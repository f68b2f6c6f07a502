package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonwraymond/sendguard/ledger"
)

var _ ledger.Ledger = (*Store)(nil)

// Record appends an attempt.
func (s *Store) Record(ctx context.Context, a ledger.Attempt) error {
	retried, err := json.Marshal(a.RetriedErrors)
	if err != nil {
		return fmt.Errorf("sqlstore: encode retried errors: %w", err)
	}
	if a.RetriedErrors == nil {
		retried = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO send_attempts (id, target_id, idempotency_key, attempt_number, ts_ms, success,
    message_id, error_code, error_message, response_time_ms, retried_errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.TargetID, a.IdempotencyKey, a.AttemptNumber, toMillis(a.Timestamp), a.Success,
		a.MessageID, a.ErrorCode, a.ErrorMessage, a.ResponseTimeMs, string(retried))
	if err != nil {
		return fmt.Errorf("%w: record %s: %w", ledger.ErrUnavailable, a.ID, err)
	}
	return nil
}

// ListByTarget returns the attempts of targetID in chronological order.
func (s *Store) ListByTarget(ctx context.Context, targetID string) ([]ledger.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, target_id, idempotency_key, attempt_number, ts_ms, success,
    message_id, error_code, error_message, response_time_ms, retried_errors
FROM send_attempts WHERE target_id = ? ORDER BY ts_ms, seq`), targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ledger.ErrUnavailable, targetID, err)
	}
	defer rows.Close()

	var attempts []ledger.Attempt
	for rows.Next() {
		var (
			a       ledger.Attempt
			tsMs    int64
			retried string
		)
		if err := rows.Scan(&a.ID, &a.TargetID, &a.IdempotencyKey, &a.AttemptNumber, &tsMs, &a.Success,
			&a.MessageID, &a.ErrorCode, &a.ErrorMessage, &a.ResponseTimeMs, &retried); err != nil {
			return nil, fmt.Errorf("sqlstore: scan attempt: %w", err)
		}
		a.Timestamp = fromMillis(tsMs)
		if err := json.Unmarshal([]byte(retried), &a.RetriedErrors); err != nil {
			return nil, fmt.Errorf("sqlstore: decode retried errors of %s: %w", a.ID, err)
		}
		if len(a.RetriedErrors) == 0 {
			a.RetriedErrors = nil
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate attempts: %w", err)
	}
	return attempts, nil
}

// HasSuccessfulSend reports whether any attempt of targetID succeeded.
func (s *Store) HasSuccessfulSend(ctx context.Context, targetID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id FROM send_attempts WHERE target_id = ? AND success = ? LIMIT 1`), targetID, true).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, targetID, err)
	}
	return true, nil
}
