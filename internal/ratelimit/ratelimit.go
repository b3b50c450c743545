// Package ratelimit provides per-provider admission control: a token bucket
// for per-minute throughput and a slot counter for concurrency. A denial means
// "busy", not "unhealthy", so it never feeds the circuit breaker.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates a single provider. A zero limit means unlimited on that axis.
type Limiter struct {
	bucket         *rate.Limiter
	maxConcurrency int64
	inFlight       atomic.Int64
}

// New creates a limiter admitting perMinute requests per minute with at most
// maxConcurrency in flight.
func New(perMinute, maxConcurrency int) *Limiter {
	l := &Limiter{maxConcurrency: int64(maxConcurrency)}
	if perMinute > 0 {
		l.bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return l
}

// TryAcquire admits or denies without blocking. Callers that are admitted must
// Release when the attempt finishes.
func (l *Limiter) TryAcquire() bool {
	if l.maxConcurrency > 0 {
		if l.inFlight.Add(1) > l.maxConcurrency {
			l.inFlight.Add(-1)
			return false
		}
	} else {
		l.inFlight.Add(1)
	}

	if l.bucket != nil && !l.bucket.Allow() {
		l.inFlight.Add(-1)
		return false
	}
	return true
}

// Release returns a concurrency slot.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
}

// InFlight reports the current number of admitted attempts.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Limits describes a provider's admission settings.
type Limits struct {
	PerMinute      int
	MaxConcurrency int
}

// Pool holds one limiter per provider.
type Pool struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Limits
}

// NewPool creates a pool whose lazily-created limiters use the given defaults.
func NewPool(defaults Limits) *Pool {
	return &Pool{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Configure installs provider-specific limits, replacing any existing limiter.
func (p *Pool) Configure(providerID string, limits Limits) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[providerID] = New(limits.PerMinute, limits.MaxConcurrency)
}

// For returns the provider's limiter, creating one with defaults on first use.
func (p *Pool) For(providerID string) *Limiter {
	p.mu.RLock()
	l, ok := p.limiters[providerID]
	p.mu.RUnlock()
	if ok {
		return l
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok = p.limiters[providerID]; ok {
		return l
	}
	l = New(p.defaults.PerMinute, p.defaults.MaxConcurrency)
	p.limiters[providerID] = l
	return l
}
