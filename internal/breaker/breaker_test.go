package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config, clock *fakeClock) *Breaker {
	b := New(cfg)
	b.now = clock.Now
	return b
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultConfig())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 3, Cooldown: 30 * time.Second}, clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 3, Cooldown: 30 * time.Second}, clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// failures are consecutive; the success wiped the earlier pair
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 1, Cooldown: 30 * time.Second, HalfOpenMax: 1}, clock)

	b.RecordFailure()
	assert.False(t, b.Allow())

	clock.Advance(29 * time.Second)
	assert.False(t, b.Allow())

	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	// only HalfOpenMax trials pass while the probe is outstanding
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, HalfOpenMax: 1}, clock)

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, HalfOpenMax: 1}, clock)

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// the cooldown restarts from the reopen
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerCancelReturnsHalfOpenTrial(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, HalfOpenMax: 1}, clock)

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow())

	// the admitted request never reached the provider; the trial budget
	// must come back so the next caller can still test recovery
	b.Cancel()
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow())

	// the returned trial does not widen the budget
	assert.False(t, b.Allow())
}

func TestBreakerCancelWhileClosedIsNoOp(t *testing.T) {
	b := New(Config{FailureThreshold: 2})
	b.Cancel()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestPoolIsolatesProviders(t *testing.T) {
	p := NewPool(Config{FailureThreshold: 1})

	p.For("flux").RecordFailure()

	assert.Equal(t, StateOpen, p.For("flux").State())
	assert.Equal(t, StateClosed, p.For("veo").State())

	snap := p.Snapshot()
	assert.Equal(t, StateOpen, snap["flux"])
	assert.Equal(t, StateClosed, snap["veo"])
}

func TestPoolReturnsSameBreaker(t *testing.T) {
	p := NewPool(DefaultConfig())
	assert.Same(t, p.For("flux"), p.For("flux"))
}
