package router

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/pkg/schema"
)

func buildCandidates(t *testing.T, regs ...registry.Registration) (*registry.Registry, []*registry.Candidate) {
	t.Helper()
	r := registry.New()
	for _, reg := range regs {
		require.NoError(t, r.Register(reg, &stubAdapter{id: reg.ID}))
	}
	req := &schema.UnifiedRequest{Provider: schema.ProviderAuto, MediaType: schema.MediaImage}
	return r, r.Eligible(req)
}

func ids(cands []*registry.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestStrategyForUnknown(t *testing.T) {
	_, err := StrategyFor("random", nil)
	assert.Error(t, err)
}

func TestStrategyForDefaultsToPriority(t *testing.T) {
	s, err := StrategyFor("", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyPriority, s.Name())
}

func TestPriorityOrder(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "slow", Priority: 3},
		registry.Registration{ID: "fast", Priority: 1},
		registry.Registration{ID: "mid", Priority: 2},
	)

	s, _ := StrategyFor(StrategyPriority, nil)
	assert.Equal(t, []string{"fast", "mid", "slow"}, ids(s.Order(cands, nil)))
}

func TestPriorityTieBreaksOnRegistrationOrder(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "first", Priority: 1},
		registry.Registration{ID: "second", Priority: 1},
	)

	s, _ := StrategyFor(StrategyPriority, nil)
	assert.Equal(t, []string{"first", "second"}, ids(s.Order(cands, nil)))
}

func TestRoundRobinRotates(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "a"},
		registry.Registration{ID: "b"},
		registry.Registration{ID: "c"},
	)

	s, _ := StrategyFor(StrategyRoundRobin, nil)
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Order(cands, nil)))
	assert.Equal(t, []string{"b", "c", "a"}, ids(s.Order(cands, nil)))
	assert.Equal(t, []string{"c", "a", "b"}, ids(s.Order(cands, nil)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Order(cands, nil)))
}

func TestWeightedIsAPermutation(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "a", Weight: 5},
		registry.Registration{ID: "b", Weight: 1},
		registry.Registration{ID: "c"}, // zero weight counts as 1
	)

	s, _ := StrategyFor(StrategyWeighted, rand.New(rand.NewSource(7)))
	out := s.Order(cands, nil)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(out))
}

func TestWeightedFavorsHeavyProvider(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "heavy", Weight: 9},
		registry.Registration{ID: "light", Weight: 1},
	)

	s, _ := StrategyFor(StrategyWeighted, rand.New(rand.NewSource(1)))
	heavyFirst := 0
	for i := 0; i < 1000; i++ {
		if s.Order(cands, nil)[0].ID == "heavy" {
			heavyFirst++
		}
	}
	// expectation is 900 of 1000
	assert.Greater(t, heavyFirst, 700)
}

func TestLeastLoadedOrder(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "busy"},
		registry.Registration{ID: "idle"},
	)

	release := cands[0].IncInFlight()
	defer release()

	s, _ := StrategyFor(StrategyLeastLoaded, nil)
	assert.Equal(t, []string{"idle", "busy"}, ids(s.Order(cands, nil)))
}

func TestLatencyOrderUnobservedFirst(t *testing.T) {
	_, cands := buildCandidates(t,
		registry.Registration{ID: "slow"},
		registry.Registration{ID: "fast"},
		registry.Registration{ID: "fresh"},
	)

	cands[0].ObserveLatency(500 * time.Millisecond)
	cands[1].ObserveLatency(50 * time.Millisecond)

	s, _ := StrategyFor(StrategyLatency, nil)
	assert.Equal(t, []string{"fresh", "fast", "slow"}, ids(s.Order(cands, nil)))
}
