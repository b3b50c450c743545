package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/animatize/internal/breaker"
	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/ratelimit"
	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/pkg/schema"
)

// stubAdapter fails with the scripted errors in order, then succeeds.
type stubAdapter struct {
	id     string
	script []error

	mu    sync.Mutex
	calls int
}

func (a *stubAdapter) ID() string { return a.id }

func (a *stubAdapter) Invoke(_ context.Context, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= len(a.script) && a.script[a.calls-1] != nil {
		return nil, a.script[a.calls-1]
	}
	return &schema.UnifiedResponse{
		RequestID: req.RequestID,
		Provider:  a.id,
		Model:     req.Model,
		Status:    schema.StatusSuccess,
	}, nil
}

func (a *stubAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type routerFixture struct {
	router   *Router
	registry *registry.Registry
	breakers *breaker.Pool
	limits   *ratelimit.Pool
	adapters map[string]*stubAdapter
	slept    []time.Duration
}

func newFixture(t *testing.T, cfg Config, adapters ...*stubAdapter) *routerFixture {
	t.Helper()
	f := &routerFixture{
		registry: registry.New(),
		breakers: breaker.NewPool(breaker.Config{FailureThreshold: 1, Cooldown: time.Minute}),
		limits:   ratelimit.NewPool(ratelimit.Limits{}),
		adapters: make(map[string]*stubAdapter),
	}
	for i, a := range adapters {
		require.NoError(t, f.registry.Register(registry.Registration{ID: a.id, Priority: i + 1}, a))
		f.adapters[a.id] = a
	}
	f.router = New(f.registry, f.breakers, f.limits, priorityStrategy{}, cfg, nil)
	f.router.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	f.router.jitter = func(time.Duration) time.Duration { return 0 }
	return f
}

func autoReq() *schema.UnifiedRequest {
	return &schema.UnifiedRequest{
		RequestID: "req-1",
		Provider:  schema.ProviderAuto,
		Model:     "flux-dev",
		MediaType: schema.MediaImage,
		Prompt:    "a fox",
	}
}

func TestRouteFirstCandidateSucceeds(t *testing.T) {
	f := newFixture(t, Config{}, &stubAdapter{id: "a"}, &stubAdapter{id: "b"})

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Provider)
	assert.Equal(t, 1, f.adapters["a"].Calls())
	assert.Zero(t, f.adapters["b"].Calls())
}

func TestRouteNoEligibleCandidates(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.router.Route(context.Background(), autoReq())
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeInvalidModel, derr.Code)
}

func TestRouteRetriesTransientThenSucceeds(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{
		domain.RateLimited("a", 0),
		domain.Network("a", nil),
	}}
	f := newFixture(t, Config{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond}, a)

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Provider)
	assert.Equal(t, 3, a.Calls())

	// exponential backoff between attempts: base, then base*2
	require.Len(t, f.slept, 2)
	assert.Equal(t, 100*time.Millisecond, f.slept[0])
	assert.Equal(t, 200*time.Millisecond, f.slept[1])

	// success resets the breaker
	assert.Equal(t, breaker.StateClosed, f.breakers.For("a").State())
}

func TestRouteHonorsRetryAfterHint(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{
		domain.RateLimited("a", 5*time.Second),
	}}
	f := newFixture(t, Config{MaxAttempts: 2, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}, a)

	_, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	require.Len(t, f.slept, 1)
	assert.Equal(t, 5*time.Second, f.slept[0])
}

func TestRouteNonRetryableFallsBackImmediately(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{
		domain.New(domain.CodeContentPolicyViolation, "blocked"),
	}}
	b := &stubAdapter{id: "b"}
	f := newFixture(t, Config{MaxAttempts: 3}, a, b)

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, a.Calls())
	assert.Empty(t, f.slept)
}

func TestRouteSkipsOpenCircuit(t *testing.T) {
	a := &stubAdapter{id: "a"}
	b := &stubAdapter{id: "b"}
	f := newFixture(t, Config{}, a, b)

	f.breakers.For("a").RecordFailure() // threshold 1 trips it

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Zero(t, a.Calls())
}

func TestRouteAdmissionDenialSkipsWithoutBreakerAccounting(t *testing.T) {
	a := &stubAdapter{id: "a"}
	b := &stubAdapter{id: "b"}
	f := newFixture(t, Config{}, a, b)

	f.limits.Configure("a", ratelimit.Limits{MaxConcurrency: 1})
	require.True(t, f.limits.For("a").TryAcquire()) // occupy the only slot

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Zero(t, a.Calls())

	// denial is busyness, not failure: the circuit stays closed
	assert.Equal(t, breaker.StateClosed, f.breakers.For("a").State())
}

func TestRouteAdmissionDenialPreservesHalfOpenTrial(t *testing.T) {
	a := &stubAdapter{id: "a"}
	f := newFixture(t, Config{MaxAttempts: 1}, a)

	now := time.Unix(1000, 0)
	f.breakers.SetClock(func() time.Time { return now })

	f.breakers.For("a").RecordFailure() // threshold 1 trips it
	now = now.Add(2 * time.Minute)      // past the cooldown

	f.limits.Configure("a", ratelimit.Limits{MaxConcurrency: 1})
	require.True(t, f.limits.For("a").TryAcquire()) // occupy the only slot

	_, err := f.router.Route(context.Background(), autoReq())
	require.Error(t, err)
	assert.Zero(t, a.Calls())

	// the denied request must hand its half-open trial back; once the slot
	// frees up the provider gets contacted and the circuit closes
	f.limits.For("a").Release()

	resp, err := f.router.Route(context.Background(), autoReq())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Provider)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, breaker.StateClosed, f.breakers.For("a").State())
}

func TestCandidatesThenRouteOrderedTicksStrategyOnce(t *testing.T) {
	a := &stubAdapter{id: "a"}
	b := &stubAdapter{id: "b"}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Registration{ID: "a"}, a))
	require.NoError(t, reg.Register(registry.Registration{ID: "b"}, b))
	rt := New(reg, nil, nil, &roundRobinStrategy{}, Config{}, nil)

	// callers that derive the ordering up front dispatch over that same
	// chain, so the rotation advances once per request and both providers
	// share the load evenly
	for i := 0; i < 4; i++ {
		cands, err := rt.Candidates(autoReq())
		require.NoError(t, err)
		resp, err := rt.RouteOrdered(context.Background(), autoReq(), cands)
		require.NoError(t, err)
		assert.Equal(t, cands[0].ID, resp.Provider)
	}
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 2, b.Calls())
}

func TestRouteExhaustionAggregatesLastErrors(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{domain.New(domain.CodeInsufficientCredits, "no credits")}}
	b := &stubAdapter{id: "b", script: []error{domain.New(domain.CodeContentPolicyViolation, "blocked")}}
	f := newFixture(t, Config{MaxAttempts: 1}, a, b)

	_, err := f.router.Route(context.Background(), autoReq())
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeNoProviderAvailable, derr.Code)
	assert.Contains(t, derr.Details, "a")
	assert.Contains(t, derr.Details, "b")
	assert.Contains(t, derr.Details["a"], "INSUFFICIENT_CREDITS")
	assert.Contains(t, derr.Details["b"], "CONTENT_POLICY_VIOLATION")
}

func TestRouteRetryBudgetExhaustionTripsBreaker(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{
		domain.Network("a", nil),
		domain.Network("a", nil),
	}}
	f := newFixture(t, Config{MaxAttempts: 2}, a)

	_, err := f.router.Route(context.Background(), autoReq())
	require.Error(t, err)
	assert.Equal(t, 2, a.Calls())

	// the exhausted budget counts once against the threshold of 1
	assert.Equal(t, breaker.StateOpen, f.breakers.For("a").State())
}

func TestRoutePerRequestRetryOverride(t *testing.T) {
	a := &stubAdapter{id: "a", script: []error{domain.Network("a", nil)}}
	f := newFixture(t, Config{MaxAttempts: 5}, a)

	req := autoReq()
	req.Retry = &schema.RetryOverride{MaxAttempts: 1}

	_, err := f.router.Route(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, a.Calls())
	assert.Empty(t, f.slept)
}

func TestRouteCancelledContextStopsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &stubAdapter{id: "a", script: []error{domain.New(domain.CodeProviderError, "boom")}}
	b := &stubAdapter{id: "b"}
	f := newFixture(t, Config{MaxAttempts: 1}, a, b)

	// the first candidate's failure races with cancellation
	f.router.sleep = func(context.Context, time.Duration) error { return nil }
	cancel()

	_, err := f.router.Route(ctx, autoReq())
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeTimeout, derr.Code)
	assert.Zero(t, b.Calls())
}

func TestBackoffDelayCapped(t *testing.T) {
	noJitter := func(time.Duration) time.Duration { return 0 }
	assert.Equal(t, 100*time.Millisecond, backoffDelay(100*time.Millisecond, time.Second, 0, noJitter))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(100*time.Millisecond, time.Second, 2, noJitter))
	assert.Equal(t, time.Second, backoffDelay(100*time.Millisecond, time.Second, 10, noJitter))
	// overflow-safe at absurd attempt counts
	assert.Equal(t, time.Second, backoffDelay(100*time.Millisecond, time.Second, 64, noJitter))
}

func TestRetrySameProviderPolicy(t *testing.T) {
	assert.True(t, retrySameProvider(domain.RateLimited("p", 0)))
	assert.True(t, retrySameProvider(domain.Timeout("p", nil)))
	assert.True(t, retrySameProvider(domain.Network("p", nil)))

	assert.False(t, retrySameProvider(domain.InvalidRequest("bad")))
	assert.False(t, retrySameProvider(domain.New(domain.CodeContentPolicyViolation, "blocked")))
	assert.False(t, retrySameProvider(domain.ProviderFailure("p", "boom", nil)))

	// producer can veto retry on an otherwise transient kind
	e := domain.RateLimited("p", 0)
	e.Retryable = false
	assert.False(t, retrySameProvider(e))
}
