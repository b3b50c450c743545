// Package registry holds registered provider adapters plus their static
// metadata (capabilities, priority, weight) and dynamic health (latency EWMA,
// in-flight gauge). It is an owned instance, not process-global state, so one
// process can run independent orchestrators.
package registry

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makaronz/animatize/internal/core/ports"
	"github.com/makaronz/animatize/pkg/schema"
)

// ewmaAlpha weights recent latency observations.
const ewmaAlpha = 0.3

// Capabilities is a provider's static capability set. Matching against a
// request is a pure function over this plus the request.
type Capabilities struct {
	MediaTypes         []schema.MediaType `mapstructure:"media_types" json:"media_types"`
	Models             []string           `mapstructure:"models" json:"models"`
	MaxWidth           int                `mapstructure:"max_width" json:"max_width,omitempty"`
	MaxHeight          int                `mapstructure:"max_height" json:"max_height,omitempty"`
	MaxDurationSeconds float64            `mapstructure:"max_duration_seconds" json:"max_duration_seconds,omitempty"`
}

// Supports reports whether the provider can serve the request's media type,
// model, and resolution/duration constraints.
func (c Capabilities) Supports(req *schema.UnifiedRequest) bool {
	if len(c.MediaTypes) > 0 && !slices.Contains(c.MediaTypes, req.MediaType) {
		return false
	}
	if len(c.Models) > 0 && req.Model != "" {
		found := false
		for _, m := range c.Models {
			if strings.EqualFold(m, req.Model) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.MaxWidth > 0 {
		if w, ok := intParam(req.Parameters, "width"); ok && w > c.MaxWidth {
			return false
		}
	}
	if c.MaxHeight > 0 {
		if h, ok := intParam(req.Parameters, "height"); ok && h > c.MaxHeight {
			return false
		}
	}
	if c.MaxDurationSeconds > 0 {
		if d, ok := floatParam(req.Parameters, "duration_seconds"); ok && d > c.MaxDurationSeconds {
			return false
		}
	}
	return true
}

// Registration is a provider's static metadata, created at registration time
// and read-mostly afterwards.
type Registration struct {
	ID                 string       `mapstructure:"id" json:"id"`
	Capabilities       Capabilities `mapstructure:"capabilities" json:"capabilities"`
	Priority           int          `mapstructure:"priority" json:"priority"`
	Weight             int          `mapstructure:"weight" json:"weight"`
	MaxConcurrency     int          `mapstructure:"max_concurrency" json:"max_concurrency,omitempty"`
	RateLimitPerMinute int          `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute,omitempty"`
}

// Candidate pairs a registration with its adapter for the router's walk.
type Candidate struct {
	Registration
	Adapter ports.ProviderAdapter

	// order is the registration sequence number, used for stable tie-breaks.
	order int
	state *health
}

type health struct {
	ewmaNanos atomic.Uint64 // math.Float64bits of the EWMA in nanoseconds
	samples   atomic.Uint64
	inFlight  atomic.Int64
}

// Registry is the provider catalog.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Candidate
	order   []string
	nextSeq int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Candidate)}
}

// Register adds a provider. Registering a duplicate id fails.
func (r *Registry) Register(reg Registration, adapter ports.ProviderAdapter) error {
	if reg.ID == "" {
		return fmt.Errorf("provider registration requires an id")
	}
	if adapter == nil {
		return fmt.Errorf("provider %q registered without an adapter", reg.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.ID]; exists {
		return fmt.Errorf("provider %q already registered", reg.ID)
	}
	r.entries[reg.ID] = &Candidate{
		Registration: reg,
		Adapter:      adapter,
		order:        r.nextSeq,
		state:        &health{},
	}
	r.nextSeq++
	r.order = append(r.order, reg.ID)
	return nil
}

// Deregister removes a provider.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

// IDs lists registered provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Get returns a provider candidate by id.
func (r *Registry) Get(id string) (*Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[id]
	return c, ok
}

// Eligible filters providers to those whose capabilities match the request,
// preserving registration order. A pinned provider narrows the set to that id.
func (r *Registry) Eligible(req *schema.UnifiedRequest) []*Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Candidate
	for _, id := range r.order {
		c := r.entries[id]
		if req.Provider != "" && req.Provider != schema.ProviderAuto && !strings.EqualFold(req.Provider, c.ID) {
			continue
		}
		if !c.Capabilities.Supports(req) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ObserveLatency folds a new sample into the provider's EWMA.
func (c *Candidate) ObserveLatency(d time.Duration) {
	for {
		oldBits := c.state.ewmaNanos.Load()
		old := math.Float64frombits(oldBits)
		var next float64
		if c.state.samples.Load() == 0 {
			next = float64(d)
		} else {
			next = ewmaAlpha*float64(d) + (1-ewmaAlpha)*old
		}
		if c.state.ewmaNanos.CompareAndSwap(oldBits, math.Float64bits(next)) {
			c.state.samples.Add(1)
			return
		}
	}
}

// Latency returns the EWMA and whether any observation exists. Providers with
// no observations are treated as best-case so they get an initial trial.
func (c *Candidate) Latency() (time.Duration, bool) {
	if c.state.samples.Load() == 0 {
		return 0, false
	}
	return time.Duration(math.Float64frombits(c.state.ewmaNanos.Load())), true
}

// IncInFlight marks an attempt started; the return value undoes it.
func (c *Candidate) IncInFlight() func() {
	c.state.inFlight.Add(1)
	var once sync.Once
	return func() { once.Do(func() { c.state.inFlight.Add(-1) }) }
}

// InFlight is the provider's current attempt count.
func (c *Candidate) InFlight() int {
	return int(c.state.inFlight.Load())
}

// Order exposes the registration sequence for deterministic tie-breaks.
func (c *Candidate) Order() int { return c.order }

// Status is the operator-facing view of one provider.
type Status struct {
	ID           string        `json:"id"`
	Priority     int           `json:"priority"`
	Weight       int           `json:"weight"`
	InFlight     int           `json:"in_flight"`
	LatencyEWMA  time.Duration `json:"latency_ewma"`
	Observations uint64        `json:"observations"`
}

// Snapshot lists provider statuses in registration order.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		c := r.entries[id]
		ewma, _ := c.Latency()
		out = append(out, Status{
			ID:           c.ID,
			Priority:     c.Priority,
			Weight:       c.Weight,
			InFlight:     c.InFlight(),
			LatencyEWMA:  ewma,
			Observations: c.state.samples.Load(),
		})
	}
	return out
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
