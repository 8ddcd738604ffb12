package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process usage store. It backs tests and Redis-less
// deployments; counters are then per-instance rather than shared.
type MemoryStore struct {
	mu         sync.Mutex
	counters   map[string]memoryCounter
	timestamps map[string][]time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:   make(map[string]memoryCounter),
		timestamps: make(map[string][]time.Time),
	}
}

// Get returns the counter at key, 0 if absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.counters[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// Incr increments the counter at key, creating it with the given TTL.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.counters[key]
	if !ok || now.After(entry.expiresAt) {
		entry = memoryCounter{count: 0, expiresAt: now.Add(ttl)}
	}
	entry.count++
	s.counters[key] = entry
	return entry.count, nil
}

// AddTimestamp records one occurrence, pruning entries older than retain.
func (s *MemoryStore) AddTimestamp(_ context.Context, key string, ts time.Time, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts.Add(-retain)
	kept := s.timestamps[key][:0]
	for _, t := range s.timestamps[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.timestamps[key] = append(kept, ts)
	return nil
}

// CountSince counts occurrences at or after since.
func (s *MemoryStore) CountSince(_ context.Context, key string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, t := range s.timestamps[key] {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}
