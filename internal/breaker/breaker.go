// Package breaker implements the per-provider circuit breaker consulted by the
// router before every dispatch attempt.
package breaker

import (
	"sync"
	"time"
)

// State of a single provider's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker instance.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects before probing recovery.
	Cooldown time.Duration
	// HalfOpenMax bounds concurrent trial requests while half-open.
	HalfOpenMax int
}

// DefaultConfig mirrors the configuration surface defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// Breaker is a single provider's failure-tracking state machine. All
// transitions happen under one mutex so two callers can never both observe
// CLOSED and trip OPEN inconsistently.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	failures int
	openedAt time.Time
	trials   int
	now      func() time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Allow reports whether a request may pass. An open circuit transitions to
// half-open once the cooldown has elapsed; half-open admits at most
// HalfOpenMax trials.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trials = 0
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenMax {
			return false
		}
		b.trials++
		return true
	default:
		return false
	}
}

// Cancel returns an admitted request that never reached the provider, so an
// admission denial cannot burn a half-open trial and strand the circuit.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
}

// RecordSuccess resets the circuit. The first half-open success closes it.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trials = 0
	}
}

// RecordFailure counts a failure; reaching the threshold while closed, or any
// failure while half-open, opens the circuit and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.failures++
		b.open()
	case StateOpen:
		// cooldown keeps running from the original trip
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trials = 0
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed. Used by operators after a manual fix.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trials = 0
}

// Pool owns one breaker per provider. It is an explicit instance handed to the
// router, never package-global state, so independent orchestrators in one
// process keep independent health views.
type Pool struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
	now      func() time.Time
}

// NewPool creates an empty pool; breakers are lazily created per provider.
func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
		now:      time.Now,
	}
}

// For returns the provider's breaker, creating it on first use.
func (p *Pool) For(providerID string) *Breaker {
	p.mu.RLock()
	b, ok := p.breakers[providerID]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.breakers[providerID]; ok {
		return b
	}
	b = New(p.cfg)
	b.now = p.now
	p.breakers[providerID] = b
	return b
}

// Snapshot reports each known provider's circuit state.
func (p *Pool) Snapshot() map[string]State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]State, len(p.breakers))
	for id, b := range p.breakers {
		out[id] = b.State()
	}
	return out
}

// SetClock overrides time for tests; it must be called before use.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
	for _, b := range p.breakers {
		b.now = now
	}
}
