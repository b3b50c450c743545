package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ttlStore keys eviction purely on absolute expiry: reads treat expired
// entries as misses, the periodic sweep reclaims memory without reads, and a
// full store drops the entry closest to expiring.
type ttlStore struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	capacity  int
	evictions atomic.Uint64
	clock     func() time.Time
}

func newTTLStore(capacity int, clock func() time.Time) *ttlStore {
	if capacity <= 0 {
		capacity = 128
	}
	return &ttlStore{
		entries:  make(map[string]*Entry),
		capacity: capacity,
		clock:    clock,
	}
}

func (s *ttlStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	now := s.clock()
	if entry.Expired(now) {
		delete(s.entries, key)
		return nil, false, nil
	}
	entry.AccessCount++
	entry.LastAccess = now
	return entry.Clone(), true, nil
}

func (s *ttlStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if _, exists := s.entries[entry.Key]; !exists && len(s.entries) >= s.capacity {
		s.evictSoonest(now)
	}
	s.entries[entry.Key] = entry.Clone()
	return nil
}

// evictSoonest drops expired entries first, then the entry nearest expiry.
// Caller holds the lock.
func (s *ttlStore) evictSoonest(now time.Time) {
	var victim *Entry
	for key, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, key)
			return
		}
		if victim == nil || e.ExpiresAt.Before(victim.ExpiresAt) {
			victim = e
		}
	}
	if victim != nil {
		delete(s.entries, victim.Key)
		s.evictions.Add(1)
	}
}

func (s *ttlStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *ttlStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *ttlStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *ttlStore) Evictions() uint64 {
	return s.evictions.Load()
}

func (s *ttlStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *ttlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}
