package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlimitedLimiterAlwaysAdmits(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.TryAcquire())
	}
	assert.Equal(t, 100, l.InFlight())
}

func TestConcurrencySlots(t *testing.T) {
	l := New(0, 2)

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.Equal(t, 2, l.InFlight())

	l.Release()
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestPerMinuteBucketDenies(t *testing.T) {
	l := New(3, 0)

	// burst capacity equals the per-minute budget
	for i := 0; i < 3; i++ {
		assert.True(t, l.TryAcquire(), "acquire %d", i)
	}
	assert.False(t, l.TryAcquire())
}

func TestDeniedAcquireDoesNotLeakSlot(t *testing.T) {
	l := New(1, 1)

	assert.True(t, l.TryAcquire())
	l.Release()

	// bucket is exhausted so admission fails, but the slot must be returned
	assert.False(t, l.TryAcquire())
	assert.Equal(t, 0, l.InFlight())
}

func TestPoolConfigureReplacesLimiter(t *testing.T) {
	p := NewPool(Limits{MaxConcurrency: 1})

	first := p.For("flux")
	assert.True(t, first.TryAcquire())
	assert.False(t, first.TryAcquire())

	p.Configure("flux", Limits{MaxConcurrency: 5})
	fresh := p.For("flux")
	assert.NotSame(t, first, fresh)
	assert.True(t, fresh.TryAcquire())
}

func TestPoolDefaults(t *testing.T) {
	p := NewPool(Limits{})
	l := p.For("anything")
	assert.True(t, l.TryAcquire())
	assert.Same(t, l, p.For("anything"))
}
