package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// lfuStore evicts the lowest access-count entry, ties broken by oldest last
// access. Invalidation and eviction scans are O(entries), which is acceptable
// because they are rare relative to reads.
type lfuStore struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	capacity  int
	evictions atomic.Uint64
	clock     func() time.Time
}

func newLFUStore(capacity int, clock func() time.Time) *lfuStore {
	if capacity <= 0 {
		capacity = 128
	}
	return &lfuStore{
		entries:  make(map[string]*Entry),
		capacity: capacity,
		clock:    clock,
	}
}

func (s *lfuStore) Get(_ context.Context, key string) (*Entry, bool, error) {
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

func (s *lfuStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Key]; !exists && len(s.entries) >= s.capacity {
		s.evictColdest()
	}
	s.entries[entry.Key] = entry.Clone()
	return nil
}

// evictColdest removes the entry with the fewest accesses; among ties the one
// untouched the longest goes first. Caller holds the lock.
func (s *lfuStore) evictColdest() {
	var victim *Entry
	for _, e := range s.entries {
		if victim == nil ||
			e.AccessCount < victim.AccessCount ||
			(e.AccessCount == victim.AccessCount && e.LastAccess.Before(victim.LastAccess)) {
			victim = e
		}
	}
	if victim != nil {
		delete(s.entries, victim.Key)
		s.evictions.Add(1)
	}
}

func (s *lfuStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *lfuStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *lfuStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *lfuStore) Evictions() uint64 {
	return s.evictions.Load()
}

func (s *lfuStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
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

func (s *lfuStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return nil
}
