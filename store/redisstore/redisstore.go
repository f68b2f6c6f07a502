// Package redisstore persists idempotency records and send attempts in
// Redis. Per-key atomicity comes from Lua scripts; finished records expire
// through native key TTLs when a retention policy is set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "sendguard:"

var createScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st == 'pending' or st == 'success' then
  return st
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'target_id', ARGV[1], 'status', 'pending', 'result_id', '',
  'created_at_ms', ARGV[2], 'updated_at_ms', ARGV[2])
return 'ok'
`)

var updateScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return 'missing'
end
if st ~= 'pending' then
  return st
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result_id', ARGV[2], 'updated_at_ms', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 'ok'
`)

// Store is a Redis-backed idempotency store and attempt ledger.
//
// Contract:
// - Create and Update are atomic per key.
// - Attempts of one target share a hash slot, so the store works on
//   Redis Cluster through redis.UniversalClient.
type Store struct {
	client redis.UniversalClient
	prefix string
	policy idempotency.Policy
	now    func() time.Time
}

var (
	_ idempotency.Store = (*Store)(nil)
	_ ledger.Ledger     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithPolicy sets the retention policy for finished records.
func WithPolicy(p idempotency.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// New creates a Store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) recordKey(key string) string {
	return s.prefix + key
}

func (s *Store) attemptsKey(targetID string) string {
	return s.prefix + "attempts:{" + targetID + "}"
}

func (s *Store) successKey(targetID string) string {
	return s.prefix + "success:{" + targetID + "}"
}

// Get returns the record for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(key, fields)
}

// Create inserts a Pending record.
func (s *Store) Create(ctx context.Context, targetID, key string) (*idempotency.Record, error) {
	now := time.UnixMilli(s.now().UnixMilli()).UTC()
	res, err := createScript.Run(ctx, s.client, []string{s.recordKey(key)},
		targetID, now.UnixMilli()).Text()
	if err != nil {
		return nil, fmt.Errorf("redisstore: create %s: %w", key, err)
	}
	if res != "ok" {
		return nil, fmt.Errorf("%w: key %s is %s", idempotency.ErrConflict, key, res)
	}
	return idempotency.NewPending(targetID, key, now), nil
}

// Update finishes the Pending record for key.
func (s *Store) Update(ctx context.Context, key string, status idempotency.Status, resultID string) (*idempotency.Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: target status %q is not terminal", idempotency.ErrInvalidTransition, status)
	}

	res, err := updateScript.Run(ctx, s.client, []string{s.recordKey(key)},
		string(status), idempotency.ResultFor(status, resultID), s.now().UnixMilli(),
		s.policy.Retention.Milliseconds()).Text()
	if err != nil {
		return nil, fmt.Errorf("redisstore: update %s: %w", key, err)
	}
	switch res {
	case "ok":
	case "missing":
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrNotFound, key)
	default:
		return nil, fmt.Errorf("%w: key %s is already %s", idempotency.ErrInvalidTransition, key, res)
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrNotFound, key)
	}
	return rec, nil
}

func decodeRecord(key string, fields map[string]string) (*idempotency.Record, error) {
	status, err := idempotency.ParseStatus(fields["status"])
	if err != nil {
		return nil, err
	}
	created, err := strconv.ParseInt(fields["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: record %s: created_at_ms: %w", key, err)
	}
	updated, err := strconv.ParseInt(fields["updated_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: record %s: updated_at_ms: %w", key, err)
	}
	return &idempotency.Record{
		Key:       key,
		TargetID:  fields["target_id"],
		Status:    status,
		ResultID:  fields["result_id"],
		CreatedAt: time.UnixMilli(created).UTC(),
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

// Record appends an attempt to the target's list.
func (s *Store) Record(ctx context.Context, a ledger.Attempt) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redisstore: encode attempt: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.attemptsKey(a.TargetID), payload)
		if a.Success {
			pipe.Set(ctx, s.successKey(a.TargetID), a.ID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: record %s: %w", ledger.ErrUnavailable, a.ID, err)
	}
	return nil
}

// ListByTarget returns the attempts of targetID in chronological order.
func (s *Store) ListByTarget(ctx context.Context, targetID string) ([]ledger.Attempt, error) {
	raw, err := s.client.LRange(ctx, s.attemptsKey(targetID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ledger.ErrUnavailable, targetID, err)
	}

	attempts := make([]ledger.Attempt, 0, len(raw))
	for _, item := range raw {
		var a ledger.Attempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("redisstore: decode attempt of %s: %w", targetID, err)
		}
		attempts = append(attempts, a)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Timestamp.Before(attempts[j].Timestamp)
	})
	return attempts, nil
}

// HasSuccessfulSend reports whether any attempt of targetID succeeded.
func (s *Store) HasSuccessfulSend(ctx context.Context, targetID string) (bool, error) {
	err := s.client.Get(ctx, s.successKey(targetID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, targetID, err)
	}
	return true, nil
}
