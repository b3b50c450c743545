// Package orchestrator is the façade over the contract registry, cache, and
// router: it normalizes an incoming request to the internal schema version,
// serves cache hits, coalesces concurrent identical misses into one provider
// call, and migrates every response back to the caller's declared version.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/makaronz/animatize/internal/cache"
	"github.com/makaronz/animatize/internal/contracts"
	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/internal/router"
	"github.com/makaronz/animatize/pkg/schema"
)

// Config tunes the façade.
type Config struct {
	DefaultTTL     time.Duration
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 2 * time.Minute
	}
	return c
}

// Orchestrator handles unified generation requests. Callers always receive a
// well-formed envelope; no error or panic escapes Handle.
type Orchestrator struct {
	router    *router.Router
	cache     *cache.Tiered
	requests  *contracts.Registry[*schema.UnifiedRequest]
	responses *contracts.Registry[*schema.UnifiedResponse]
	flights   singleflight.Group
	validate  *validator.Validate
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New wires an orchestrator instance. Registries default to the shipped
// migration chains when nil.
func New(rt *router.Router, store *cache.Tiered, reqReg *contracts.Registry[*schema.UnifiedRequest], respReg *contracts.Registry[*schema.UnifiedResponse], cfg Config, logger *zap.Logger) *Orchestrator {
	if reqReg == nil {
		reqReg = contracts.NewRequestRegistry()
	}
	if respReg == nil {
		respReg = contracts.NewResponseRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// reuse the transport binding tags so HTTP and library callers validate the
	// same shape
	v.SetTagName("binding")
	return &Orchestrator{
		router:    rt,
		cache:     store,
		requests:  reqReg,
		responses: respReg,
		validate:  v,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("animatize/orchestrator"),
		now:       time.Now,
	}
}

// Handle processes one generation request end to end.
func (o *Orchestrator) Handle(ctx context.Context, req *schema.UnifiedRequest) (out *schema.UnifiedResponse) {
	start := o.now()
	callerVersion := contracts.CurrentVersion
	requestID := ""
	if req != nil {
		if req.SchemaVersion != "" {
			callerVersion = req.SchemaVersion
		}
		requestID = req.RequestID
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in orchestrator", zap.Any("panic", r))
			err := domain.New(domain.CodeUnknownError, fmt.Sprintf("internal failure: %v", r))
			out = o.failed(requestID, callerVersion, start, err)
		}
	}()

	if req == nil {
		return o.failed(requestID, callerVersion, start, domain.InvalidRequest("request is nil"))
	}
	if err := o.validate.Struct(req); err != nil {
		return o.failed(requestID, callerVersion, start, domain.InvalidRequest(validationMessage(err)))
	}
	if !o.requests.Supports(callerVersion) {
		return o.failed(requestID, callerVersion, start, domain.UnsupportedVersion(callerVersion, o.requests.Current()))
	}

	// the incoming request is immutable; migration works on a copy
	cur, reqPath, err := o.requests.MigrateToCurrent(req.Clone(), callerVersion)
	if err != nil {
		return o.failed(requestID, callerVersion, start, err)
	}
	cur.SchemaVersion = o.requests.Current()
	if cur.RequestID == "" {
		cur.RequestID = uuid.NewString()
	}
	requestID = cur.RequestID
	if cur.Timestamp.IsZero() {
		cur.Timestamp = start
	}

	timeout := cur.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrator.handle",
		trace.WithAttributes(
			attribute.String("request.id", cur.RequestID),
			attribute.String("request.model", cur.Model),
			attribute.String("request.media_type", string(cur.MediaType)),
			attribute.String("request.provider", cur.Provider),
		))
	defer span.End()

	key, ordered, err := o.cachePlan(cur)
	if err != nil {
		return o.failed(requestID, callerVersion, start, err)
	}

	if cached, ok := o.cache.Get(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		resp := cached.Clone()
		resp.RequestID = cur.RequestID
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata["cache"] = "hit"
		return o.finish(resp, callerVersion, reqPath, start)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// in-flight deduplication: exactly one caller owns the router call, the
	// rest attach to its result. singleflight drops the ticket when the owner
	// finishes, so a miss after a failure always re-attempts.
	ch := o.flights.DoChan(key, func() (any, error) {
		var resp *schema.UnifiedResponse
		var err error
		if ordered != nil {
			resp, err = o.router.RouteOrdered(ctx, cur, ordered)
		} else {
			resp, err = o.router.Route(ctx, cur)
		}
		if err != nil {
			return nil, err
		}
		o.store(ctx, cur, resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return o.failed(requestID, callerVersion, start, res.Err)
		}
		// waiters share one value; hand each caller its own copy
		resp := res.Val.(*schema.UnifiedResponse).Clone()
		resp.RequestID = cur.RequestID
		return o.finish(resp, callerVersion, reqPath, start)
	case <-ctx.Done():
		return o.failed(requestID, callerVersion, start, domain.Timeout("", ctx.Err()))
	}
}

// cachePlan keys per concrete provider+model. A pinned provider is keyed
// directly; "auto" requests are keyed on the strategy's first pick. The
// ordering computed here is reused for dispatch, so a stateful strategy
// (round robin) ticks exactly once per request.
func (o *Orchestrator) cachePlan(req *schema.UnifiedRequest) (string, []*registry.Candidate, error) {
	provider := req.Provider
	var ordered []*registry.Candidate
	if provider == "" || provider == schema.ProviderAuto {
		var err error
		ordered, err = o.router.Candidates(req)
		if err != nil {
			return "", nil, err
		}
		provider = ordered[0].ID
	}
	return cache.Key(provider, req.Model, req.Prompt, req.Parameters), ordered, nil
}

// store writes a successful response through the cache keyed on the provider
// actually used. Failures are never cached.
func (o *Orchestrator) store(ctx context.Context, req *schema.UnifiedRequest, resp *schema.UnifiedResponse) {
	if resp.Status != schema.StatusSuccess {
		return
	}
	ttl := o.cfg.DefaultTTL
	if override, ok := req.Metadata["cache_ttl_seconds"]; ok {
		if secs, ok := toSeconds(override); ok && secs > 0 {
			ttl = secs
		}
	}
	key := cache.Key(resp.Provider, req.Model, req.Prompt, req.Parameters)
	o.cache.Put(ctx, key, resp, ttl)
}

// finish stamps timing and the migration manifest, then migrates the response
// to the caller's declared version.
func (o *Orchestrator) finish(resp *schema.UnifiedResponse, callerVersion string, reqPath []string, start time.Time) *schema.UnifiedResponse {
	resp.SchemaVersion = o.responses.Current()
	resp.ProcessingTime = o.now().Sub(start)
	if resp.Timestamp.IsZero() {
		resp.Timestamp = o.now()
	}

	migrated, respPath, err := o.responses.Migrate(resp, o.responses.Current(), callerVersion)
	if err != nil {
		// the caller asked for a version we cannot produce; answer in the
		// current contract with the migration failure attached
		o.logger.Warn("response downgrade failed",
			zap.String("to_version", callerVersion), zap.Error(err))
		resp.Error = domain.AsError(err).WireDetails(o.now())
		resp.Status = schema.StatusFailed
		return resp
	}
	if migrated.Metadata == nil {
		migrated.Metadata = make(map[string]any)
	}
	// manifest sufficient to reproduce which migrations touched this exchange
	migrated.Metadata["request_migration"] = strings.Join(reqPath, " -> ")
	migrated.Metadata["response_migration"] = strings.Join(respPath, " -> ")
	return migrated
}

// failed converts any failure into a failed-status envelope at the caller's
// version.
func (o *Orchestrator) failed(requestID, callerVersion string, start time.Time, err error) *schema.UnifiedResponse {
	derr := domain.AsError(err)
	now := o.now()
	resp := &schema.UnifiedResponse{
		SchemaVersion:  o.responses.Current(),
		RequestID:      requestID,
		Provider:       derr.Provider,
		Status:         schema.StatusFailed,
		Error:          derr.WireDetails(now),
		Timestamp:      now,
		ProcessingTime: now.Sub(start),
	}
	if o.responses.Supports(callerVersion) {
		if migrated, _, merr := o.responses.Migrate(resp, o.responses.Current(), callerVersion); merr == nil {
			return migrated
		}
	}
	return resp
}

// Stats exposes observable cache state for operators.
func (o *Orchestrator) Stats(ctx context.Context) cache.Stats {
	return o.cache.Stats(ctx)
}

// Invalidate removes cached responses matching the glob pattern.
func (o *Orchestrator) Invalidate(ctx context.Context, pattern string) int {
	return o.cache.Invalidate(ctx, pattern)
}

// InvalidateProvider removes every cached response from one provider.
func (o *Orchestrator) InvalidateProvider(ctx context.Context, provider string) int {
	return o.cache.InvalidateProvider(ctx, provider)
}

func validationMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(verrs))
		for _, ve := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %q", ve.Field(), ve.Tag()))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

func toSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case float64:
		return time.Duration(n * float64(time.Second)), true
	default:
		return 0, false
	}
}
