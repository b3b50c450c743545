package router

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/pkg/schema"
)

// Recognized routing strategies.
const (
	StrategyPriority    = "priority"
	StrategyRoundRobin  = "round_robin"
	StrategyWeighted    = "weighted"
	StrategyLeastLoaded = "least_loaded"
	StrategyLatency     = "latency"
)

// Strategy orders the capability-filtered candidate set for one route call.
// Implementations must not mutate the input slice's candidates.
type Strategy interface {
	Name() string
	Order(cands []*registry.Candidate, req *schema.UnifiedRequest) []*registry.Candidate
}

// StrategyFor builds the named strategy. rng feeds the weighted strategy and
// may be seeded deterministically for tests; nil falls back to a global source.
func StrategyFor(name string, rng *rand.Rand) (Strategy, error) {
	switch name {
	case StrategyPriority, "":
		return priorityStrategy{}, nil
	case StrategyRoundRobin:
		return &roundRobinStrategy{}, nil
	case StrategyWeighted:
		return &weightedStrategy{rng: rng}, nil
	case StrategyLeastLoaded:
		return leastLoadedStrategy{}, nil
	case StrategyLatency:
		return latencyStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", name)
	}
}

// priorityStrategy orders by ascending static priority, ties broken by
// registration order.
type priorityStrategy struct{}

func (priorityStrategy) Name() string { return StrategyPriority }

func (priorityStrategy) Order(cands []*registry.Candidate, _ *schema.UnifiedRequest) []*registry.Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b *registry.Candidate) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.Order() - b.Order()
	})
	return out
}

// roundRobinStrategy rotates a pointer per call, wrapping over the filtered set.
type roundRobinStrategy struct {
	next atomic.Uint64
}

func (*roundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *roundRobinStrategy) Order(cands []*registry.Candidate, _ *schema.UnifiedRequest) []*registry.Candidate {
	if len(cands) == 0 {
		return nil
	}
	start := int((s.next.Add(1) - 1) % uint64(len(cands)))
	out := make([]*registry.Candidate, 0, len(cands))
	for i := range cands {
		out = append(out, cands[(start+i)%len(cands)])
	}
	return out
}

// weightedStrategy samples without replacement with probability proportional
// to configured weight.
type weightedStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (*weightedStrategy) Name() string { return StrategyWeighted }

func (s *weightedStrategy) Order(cands []*registry.Candidate, _ *schema.UnifiedRequest) []*registry.Candidate {
	remaining := slices.Clone(cands)
	out := make([]*registry.Candidate, 0, len(cands))

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(remaining) > 0 {
		total := 0
		for _, c := range remaining {
			total += max(c.Weight, 1)
		}
		pick := s.intn(total)
		for i, c := range remaining {
			pick -= max(c.Weight, 1)
			if pick < 0 {
				out = append(out, c)
				remaining = slices.Delete(remaining, i, i+1)
				break
			}
		}
	}
	return out
}

func (s *weightedStrategy) intn(n int) int {
	if s.rng != nil {
		return s.rng.Intn(n)
	}
	return rand.Intn(n)
}

// leastLoadedStrategy orders by ascending in-flight count, ties broken by
// priority then registration order.
type leastLoadedStrategy struct{}

func (leastLoadedStrategy) Name() string { return StrategyLeastLoaded }

func (leastLoadedStrategy) Order(cands []*registry.Candidate, _ *schema.UnifiedRequest) []*registry.Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b *registry.Candidate) int {
		if a.InFlight() != b.InFlight() {
			return a.InFlight() - b.InFlight()
		}
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.Order() - b.Order()
	})
	return out
}

// latencyStrategy orders by ascending latency EWMA. Providers with no
// observations sort first so they get an initial trial.
type latencyStrategy struct{}

func (latencyStrategy) Name() string { return StrategyLatency }

func (latencyStrategy) Order(cands []*registry.Candidate, _ *schema.UnifiedRequest) []*registry.Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b *registry.Candidate) int {
		la, aok := a.Latency()
		lb, bok := b.Latency()
		switch {
		case !aok && !bok:
			// fall through to priority
		case !aok:
			return -1
		case !bok:
			return 1
		case la != lb:
			if la < lb {
				return -1
			}
			return 1
		}
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.Order() - b.Order()
	})
	return out
}
