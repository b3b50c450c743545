// Package router selects providers for a unified request, gates every dispatch
// through the circuit breaker and rate limiter, and handles retry, backoff,
// and fallback across the candidate chain.
package router

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/makaronz/animatize/internal/breaker"
	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/ratelimit"
	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/pkg/schema"
)

// Config tunes the retry loop.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = c.BaseBackoff
	}
	return c
}

// Router walks strategy-ordered candidates. Retries against one provider are
// strictly sequential and fallback starts only after the current candidate is
// exhausted.
type Router struct {
	registry *registry.Registry
	breakers *breaker.Pool
	limits   *ratelimit.Pool
	strategy Strategy
	cfg      Config
	logger   *zap.Logger

	// sleep and jitter are injectable so backoff timing is testable with a
	// fake clock.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New wires a router. Any nil collaborator gets a sensible default.
func New(reg *registry.Registry, breakers *breaker.Pool, limits *ratelimit.Pool, strategy Strategy, cfg Config, logger *zap.Logger) *Router {
	if strategy == nil {
		strategy = priorityStrategy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = breaker.NewPool(breaker.DefaultConfig())
	}
	if limits == nil {
		limits = ratelimit.NewPool(ratelimit.Limits{})
	}
	return &Router{
		registry: reg,
		breakers: breakers,
		limits:   limits,
		strategy: strategy,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sleep:    sleepContext,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Breakers exposes the breaker pool for operator snapshots.
func (r *Router) Breakers() *breaker.Pool { return r.breakers }

// Candidates returns the strategy-ordered eligible providers for the request,
// failing with InvalidModel when the capability filter leaves nothing.
func (r *Router) Candidates(req *schema.UnifiedRequest) ([]*registry.Candidate, error) {
	eligible := r.registry.Eligible(req)
	if len(eligible) == 0 {
		return nil, domain.InvalidModel("no provider supports the requested model/media type")
	}
	return r.strategy.Order(eligible, req), nil
}

// Route dispatches the request to the first candidate that succeeds, retrying
// transient errors against the same provider before falling back. When every
// candidate is exhausted it fails with NoProviderAvailable carrying each
// candidate's last error.
func (r *Router) Route(ctx context.Context, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error) {
	candidates, err := r.Candidates(req)
	if err != nil {
		return nil, err
	}
	return r.RouteOrdered(ctx, req, candidates)
}

// RouteOrdered dispatches over an already-ordered candidate chain. Callers
// that compute the ordering earlier in the request flow hand it in here so a
// stateful strategy advances exactly once per request.
func (r *Router) RouteOrdered(ctx context.Context, req *schema.UnifiedRequest, candidates []*registry.Candidate) (*schema.UnifiedResponse, error) {
	lastErrors := make(map[string]string, len(candidates))
	for _, cand := range candidates {
		b := r.breakers.For(cand.ID)
		if !b.Allow() {
			// fail fast without contacting the adapter
			lastErrors[cand.ID] = domain.CircuitOpen(cand.ID).Error()
			continue
		}

		resp, err := r.dispatch(ctx, cand, b, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, domain.Timeout(cand.ID, ctx.Err())
		}
		lastErrors[cand.ID] = err.Error()
		r.logger.Warn("provider exhausted, falling back",
			zap.String("provider", cand.ID),
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}

	return nil, domain.NoProviderAvailable(lastErrors)
}

// dispatch runs the bounded retry loop against a single candidate. Every
// attempt is gated by the rate limiter and updates the latency EWMA and the
// breaker for the provider actually contacted.
func (r *Router) dispatch(ctx context.Context, cand *registry.Candidate, b *breaker.Breaker, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error) {
	maxAttempts, base, maxBackoff := r.cfg.MaxAttempts, r.cfg.BaseBackoff, r.cfg.MaxBackoff
	if req.Retry != nil {
		if req.Retry.MaxAttempts > 0 {
			maxAttempts = req.Retry.MaxAttempts
		}
		if req.Retry.BaseBackoff > 0 {
			base = req.Retry.BaseBackoff
		}
		if req.Retry.MaxBackoff > 0 {
			maxBackoff = req.Retry.MaxBackoff
		}
	}

	lim := r.limits.For(cand.ID)
	var lastErr *domain.Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(base, maxBackoff, attempt-1, r.jitter)
			if lastErr != nil && lastErr.RetryAfter > delay {
				delay = lastErr.RetryAfter
			}
			if err := r.sleep(ctx, delay); err != nil {
				return nil, domain.Timeout(cand.ID, err)
			}
		}

		if !lim.TryAcquire() {
			// busy, not unhealthy: hand the breaker admission back and skip
			b.Cancel()
			return nil, domain.AdmissionDenied(cand.ID)
		}

		done := cand.IncInFlight()
		start := time.Now()
		resp, err := r.invoke(ctx, cand, req)
		cand.ObserveLatency(time.Since(start))
		done()
		lim.Release()

		if err == nil {
			b.RecordSuccess()
			return resp, nil
		}

		derr := domain.AsError(err)
		if derr.Provider == "" {
			derr.Provider = cand.ID
		}
		lastErr = derr

		if !retrySameProvider(derr) || ctx.Err() != nil {
			b.RecordFailure()
			return nil, derr
		}
		r.logger.Debug("retrying provider after transient error",
			zap.String("provider", cand.ID),
			zap.Int("attempt", attempt+1),
			zap.String("code", string(derr.Code)))
	}

	// retry budget exhausted counts as one failure toward the threshold
	b.RecordFailure()
	return nil, lastErr
}

func (r *Router) invoke(ctx context.Context, cand *registry.Candidate, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return cand.Adapter.Invoke(ctx, req)
}

// retrySameProvider implements the propagation policy: only rate limiting,
// timeouts, and network errors are retried against the current provider, and
// only when the instance is marked retryable. Every other kind falls back
// immediately. The switch is exhaustive over the taxonomy so a new kind is a
// visible gap here.
func retrySameProvider(err *domain.Error) bool {
	switch err.Code {
	case domain.CodeRateLimitExceeded, domain.CodeTimeout, domain.CodeNetworkError:
		return err.Retryable
	case domain.CodeInvalidRequest, domain.CodeAuthenticationFailed,
		domain.CodeProviderError, domain.CodeInvalidModel,
		domain.CodeInsufficientCredits, domain.CodeContentPolicyViolation,
		domain.CodeUnsupportedVersion, domain.CodeNoProviderAvailable,
		domain.CodeUnknownError:
		return false
	default:
		return false
	}
}

// backoffDelay computes base * 2^attempt + random(0, jitter), capped.
func backoffDelay(base, max time.Duration, attempt int, jitter func(time.Duration) time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		delay = max
	}
	if j := jitter(base); delay+j <= max {
		delay += j
	} else {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
