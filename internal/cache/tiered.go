package cache

import (
	"context"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/makaronz/animatize/pkg/schema"
)

// Config wires a tiered cache instance.
type Config struct {
	L1            Store
	L2            Store
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Clock         func() time.Time
}

// TierStats describes one tier for operators.
type TierStats struct {
	Size      int    `json:"size"`
	Evictions uint64 `json:"evictions"`
}

// Stats is the observable cache state.
type Stats struct {
	Hits    uint64    `json:"hits"`
	Misses  uint64    `json:"misses"`
	HitRate float64   `json:"hit_rate"`
	L1      TierStats `json:"l1"`
	L2      TierStats `json:"l2"`
}

// Tiered checks L1 first and falls back to L2, promoting L2 hits into L1.
// Writes go through to both tiers. It is safe for concurrent use; per-store
// synchronization protects eviction bookkeeping.
type Tiered struct {
	l1     Store
	l2     Store
	ttl    time.Duration
	logger *zap.Logger
	clock  func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds the tiered cache and starts the background TTL sweeper when
// SweepInterval is positive. Call Close to stop it.
func New(cfg Config) *Tiered {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	c := &Tiered{
		l1:     cfg.L1,
		l2:     cfg.L2,
		ttl:    cfg.DefaultTTL,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns a copy of the cached response for key, promoting L2 hits into L1.
func (c *Tiered) Get(ctx context.Context, key string) (*schema.UnifiedResponse, bool) {
	if entry, ok, err := c.l1.Get(ctx, key); err == nil && ok {
		c.hits.Add(1)
		return entry.Value, true
	} else if err != nil {
		c.logger.Warn("l1 cache read failed", zap.Error(err))
	}

	entry, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("l2 cache read failed", zap.Error(err))
	}
	if !ok || err != nil {
		c.misses.Add(1)
		return nil, false
	}

	// write-through promotion; L1 evicts under its own policy if full
	promoted := entry.Clone()
	promoted.Tier = TierL1
	if err := c.l1.Put(ctx, promoted); err != nil {
		c.logger.Warn("l1 promotion failed", zap.Error(err))
	}

	c.hits.Add(1)
	return entry.Value, true
}

// Put writes the response to both tiers under the given TTL (DefaultTTL when
// zero).
func (c *Tiered) Put(ctx context.Context, key string, resp *schema.UnifiedResponse, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.clock()
	entry := &Entry{
		Key:        key,
		Value:      resp,
		Provider:   resp.Provider,
		Model:      resp.Model,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
	}

	l1Entry := entry.Clone()
	l1Entry.Tier = TierL1
	if err := c.l1.Put(ctx, l1Entry); err != nil {
		c.logger.Warn("l1 cache write failed", zap.Error(err))
	}

	l2Entry := entry.Clone()
	l2Entry.Tier = TierL2
	if err := c.l2.Put(ctx, l2Entry); err != nil {
		c.logger.Warn("l2 cache write failed", zap.Error(err))
	}
}

// Invalidate removes entries whose key matches the glob pattern (a literal key
// matches itself). It returns how many entries were removed across both tiers.
func (c *Tiered) Invalidate(ctx context.Context, pattern string) int {
	return c.invalidate(ctx, func(e *Entry) bool {
		ok, err := path.Match(pattern, e.Key)
		return err == nil && ok
	})
}

// InvalidateProvider removes every entry cached for the provider.
func (c *Tiered) InvalidateProvider(ctx context.Context, provider string) int {
	return c.invalidate(ctx, func(e *Entry) bool {
		return strings.EqualFold(e.Provider, provider)
	})
}

// InvalidateModel removes every entry cached for the model.
func (c *Tiered) InvalidateModel(ctx context.Context, model string) int {
	return c.invalidate(ctx, func(e *Entry) bool {
		return strings.EqualFold(e.Model, model)
	})
}

// invalidate is an O(entries) scan; invalidation is rare relative to reads so
// no secondary indexes are kept.
func (c *Tiered) invalidate(ctx context.Context, match func(*Entry) bool) int {
	removed := 0
	for _, store := range []Store{c.l1, c.l2} {
		keys, err := store.Keys(ctx)
		if err != nil {
			c.logger.Warn("cache key scan failed", zap.Error(err))
			continue
		}
		for _, key := range keys {
			entry, ok, err := store.Get(ctx, key)
			if err != nil || !ok {
				continue
			}
			if match(entry) {
				if err := store.Delete(ctx, key); err == nil {
					removed++
				}
			}
		}
	}
	return removed
}

// Stats reports hit/miss counters and per-tier sizes.
func (c *Tiered) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	s.L1.Size, _ = c.l1.Len(ctx)
	s.L1.Evictions = c.l1.Evictions()
	s.L2.Size, _ = c.l2.Len(ctx)
	s.L2.Evictions = c.l2.Evictions()
	return s
}

func (c *Tiered) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			now := c.clock()
			n1, _ := c.l1.SweepExpired(ctx, now)
			n2, _ := c.l2.SweepExpired(ctx, now)
			cancel()
			if n1+n2 > 0 {
				c.logger.Debug("cache sweep reclaimed entries",
					zap.Int("l1", n1), zap.Int("l2", n2))
			}
		}
	}
}

// Close stops the sweeper and closes both tiers.
func (c *Tiered) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	if err := c.l1.Close(); err != nil {
		return err
	}
	return c.l2.Close()
}
