package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore for tests and single-node
// deployments. Expired entries are dropped lazily on read.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]map[string]*memoryEntry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]map[string]*memoryEntry),
		now:  time.Now,
	}
}

func (s *MemoryStore) Counts(_ context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	counts := make(map[string]int64)
	for field, ent := range s.keys[key] {
		if !ent.expiresAt.After(now) {
			delete(s.keys[key], field)
			continue
		}
		counts[field] = ent.count
	}
	return counts, nil
}

func (s *MemoryStore) Incr(_ context.Context, key, field string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.keys[key]
	if !ok {
		fields = make(map[string]*memoryEntry)
		s.keys[key] = fields
	}

	now := s.now()
	ent, ok := fields[field]
	if !ok || !ent.expiresAt.After(now) {
		// First writer sets the TTL; later increments never refresh it.
		fields[field] = &memoryEntry{count: 1, expiresAt: now.Add(ttl)}
		return nil
	}

	ent.count++
	return nil
}
