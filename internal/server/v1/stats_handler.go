package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makaronz/animatize/internal/breaker"
	"github.com/makaronz/animatize/internal/orchestrator"
	"github.com/makaronz/animatize/internal/registry"
)

type StatsHandler struct {
	orch     *orchestrator.Orchestrator
	breakers *breaker.Pool
	registry *registry.Registry
}

func NewStatsHandler(orch *orchestrator.Orchestrator, breakers *breaker.Pool, reg *registry.Registry) *StatsHandler {
	return &StatsHandler{orch: orch, breakers: breakers, registry: reg}
}

// Stats reports cache hit rates, circuit states and per-provider load.
func (h *StatsHandler) Stats(c *gin.Context) {
	circuits := make(map[string]string)
	for id, state := range h.breakers.Snapshot() {
		circuits[id] = state.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"cache":     h.orch.Stats(c.Request.Context()),
		"circuits":  circuits,
		"providers": h.registry.Snapshot(),
	})
}

// InvalidateCache drops cached entries by key glob or provider name.
func (h *StatsHandler) InvalidateCache(c *gin.Context) {
	pattern := c.Query("pattern")
	provider := c.Query("provider")

	if pattern == "" && provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern or provider query parameter required"})
		return
	}

	removed := 0
	if pattern != "" {
		removed += h.orch.Invalidate(c.Request.Context(), pattern)
	}
	if provider != "" {
		removed += h.orch.InvalidateProvider(c.Request.Context(), provider)
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
