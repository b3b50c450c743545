package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// lruStore evicts the least-recently-accessed entry when over capacity.
// Recency tracking is delegated to hashicorp/golang-lru; expiry is checked on
// read so a stale hit becomes a miss without waiting for the sweeper.
type lruStore struct {
	mu        sync.Mutex
	inner     *lru.Cache[string, *Entry]
	evictions atomic.Uint64
	clock     func() time.Time
}

func newLRUStore(capacity int, clock func() time.Time) (*lruStore, error) {
	if capacity <= 0 {
		capacity = 128
	}
	s := &lruStore{clock: clock}
	inner, err := lru.NewWithEvict[string, *Entry](capacity, func(string, *Entry) {
		s.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	s.inner = inner
	return s, nil
}

func (s *lruStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.inner.Get(key)
	if !ok {
		return nil, false, nil
	}
	now := s.clock()
	if entry.Expired(now) {
		// expiry removal is not a capacity eviction
		s.evictions.Add(^uint64(0))
		s.inner.Remove(key)
		return nil, false, nil
	}
	entry.AccessCount++
	entry.LastAccess = now
	return entry.Clone(), true, nil
}

func (s *lruStore) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Add(entry.Key, entry.Clone())
	return nil
}

func (s *lruStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner.Remove(key) {
		s.evictions.Add(^uint64(0))
	}
	return nil
}

func (s *lruStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Keys(), nil
}

func (s *lruStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Len(), nil
}

func (s *lruStore) Evictions() uint64 {
	return s.evictions.Load()
}

func (s *lruStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.inner.Keys() {
		if entry, ok := s.inner.Peek(key); ok && entry.Expired(now) {
			s.inner.Remove(key)
			s.evictions.Add(^uint64(0))
			removed++
		}
	}
	return removed, nil
}

func (s *lruStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Purge()
	return nil
}
