// Package redis provides a shared L2 cache tier on Redis, letting multiple
// orchestrator instances reuse each other's generations. Expiry is delegated
// to Redis TTLs, so SweepExpired is a no-op.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/makaronz/animatize/internal/cache"
)

const keyPrefix = "animatize:cache:"

type envelope struct {
	Entry *cache.Entry `json:"entry"`
}

// Store is a cache.Store backed by a Redis instance.
type Store struct {
	client    *goredis.Client
	evictions atomic.Uint64
	clock     func() time.Time
}

// New pings the Redis server and returns the tier.
func New(client *goredis.Client) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return &Store{client: client, clock: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entry, err := decodeEntry(key, raw)
	if err != nil {
		return nil, false, err
	}
	now := s.clock()
	if entry.Expired(now) {
		_ = s.client.Del(ctx, keyPrefix+key).Err()
		return nil, false, nil
	}

	entry.AccessCount++
	entry.LastAccess = now
	entry.Tier = cache.TierL2
	if updated, err := json.Marshal(envelope{Entry: entry}); err == nil {
		_ = s.client.Set(ctx, keyPrefix+key, updated, goredis.KeepTTL).Err()
	}
	return entry, true, nil
}

func decodeEntry(key string, raw []byte) (*cache.Entry, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("corrupt cache payload for %s: %w", key, err)
	}
	if env.Entry == nil {
		return nil, fmt.Errorf("empty cache envelope for %s", key)
	}
	return env.Entry, nil
}

func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	raw, err := json.Marshal(envelope{Entry: entry})
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, keyPrefix+entry.Key, raw, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	return keys, iter.Err()
}

func (s *Store) Len(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	return len(keys), err
}

func (s *Store) Evictions() uint64 {
	return s.evictions.Load()
}

// SweepExpired is a no-op: Redis expires keys natively.
func (s *Store) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
