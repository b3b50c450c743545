// Package cache implements the tiered, strategy-pluggable response cache: a
// small fast L1 checked first and a larger L2 behind it, with write-through
// promotion, pattern invalidation, and TTL sweeping.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/makaronz/animatize/pkg/schema"
)

// Tier names recorded on entries.
const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// Eviction strategies selectable per store instance.
const (
	StrategyLRU = "lru"
	StrategyLFU = "lfu"
	StrategyTTL = "ttl"
)

// Entry is a cached response plus its bookkeeping. Entries are owned by their
// store; consumers always receive copies.
type Entry struct {
	Key         string
	Value       *schema.UnifiedResponse
	Provider    string
	Model       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastAccess  time.Time
	AccessCount uint64
	Tier        string
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone deep-copies the entry so no live entry escapes its store.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Value = e.Value.Clone()
	return &out
}

// Store is the contract a cache tier must satisfy. In-memory strategy stores
// implement it directly; the sqlite and redis adapters satisfy the same
// contract for durable or shared L2 tiers.
type Store interface {
	// Get returns a copy of the entry, updating access bookkeeping. Expired
	// entries are treated as misses and removed.
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Put stores a copy of the entry, evicting under the store's policy.
	Put(ctx context.Context, entry *Entry) error
	// Delete removes the key if present.
	Delete(ctx context.Context, key string) error
	// Keys lists the currently stored keys.
	Keys(ctx context.Context) ([]string, error)
	// Len is the current entry count.
	Len(ctx context.Context) (int, error)
	// Evictions counts capacity evictions since creation.
	Evictions() uint64
	// SweepExpired reclaims expired entries even without reads.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// NewStore builds an in-memory store for the named eviction strategy.
func NewStore(strategy string, capacity int, clock func() time.Time) (Store, error) {
	if clock == nil {
		clock = time.Now
	}
	switch strategy {
	case StrategyLRU, "":
		return newLRUStore(capacity, clock)
	case StrategyLFU:
		return newLFUStore(capacity, clock), nil
	case StrategyTTL:
		return newTTLStore(capacity, clock), nil
	default:
		return nil, fmt.Errorf("unknown cache strategy %q", strategy)
	}
}
