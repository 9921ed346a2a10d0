package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// SweepInterval is how often Set also drops every expired entry.
const SweepInterval = time.Minute

// MemoryStore keeps entries in process. Expired entries are dropped on read,
// and by a full sweep from Set at most once per SweepInterval.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock is NewMemoryStore with an injectable clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]memoryItem),
		now:       now,
		lastSweep: now(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= SweepInterval {
		s.sweep(now)
	}
	s.items[key] = memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.now())
}

func (s *MemoryStore) sweep(now time.Time) int {
	s.lastSweep = now
	removed := 0
	for k, item := range s.items {
		if !now.Before(item.expiresAt) {
			delete(s.items, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
