package idempotency

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

// MemoryStore is an in-process Store for tests and single-instance
// deployments. Keys are spread over a fixed table of independently locked
// shards, so sends for unrelated keys never contend on one lock.
type MemoryStore struct {
	shards [memoryShards]memoryShard
	policy Policy
	now    func() time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory store with the given policy.
func NewMemoryStore(policy Policy) *MemoryStore {
	s := &MemoryStore{policy: policy, now: time.Now}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*Record)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%memoryShards]
}

// lookupLocked returns the live record for key, evicting it if the retention
// policy says it has expired.
func (s *MemoryStore) lookupLocked(sh *memoryShard, key string) *Record {
	rec, ok := sh.records[key]
	if !ok {
		return nil
	}
	if s.policy.Expired(rec, s.now()) {
		delete(sh.records, key)
		return nil
	}
	return rec
}

// Get returns a copy of the record for key, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return s.lookupLocked(sh, key).Clone(), nil
}

// Create inserts a Pending record for key.
func (s *MemoryStore) Create(_ context.Context, targetID, key string) (*Record, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := CheckCreate(s.lookupLocked(sh, key)); err != nil {
		return nil, err
	}

	rec := NewPending(targetID, key, s.now())
	sh.records[key] = rec
	return rec.Clone(), nil
}

// Update finishes the Pending record for key.
func (s *MemoryStore) Update(_ context.Context, key string, status Status, resultID string) (*Record, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec := s.lookupLocked(sh, key)
	if err := CheckUpdate(key, rec, status); err != nil {
		return nil, err
	}

	rec.Status = status
	rec.ResultID = ResultFor(status, resultID)
	rec.UpdatedAt = s.now()
	return rec.Clone(), nil
}

// Len returns the number of stored records, including expired ones not yet
// evicted.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
