package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makaronz/animatize/internal/registry"
)

type ProviderHandler struct {
	registry *registry.Registry
}

func NewProviderHandler(reg *registry.Registry) *ProviderHandler {
	return &ProviderHandler{registry: reg}
}

type providerInfo struct {
	ID           string                `json:"id"`
	Priority     int                   `json:"priority"`
	Weight       int                   `json:"weight"`
	Capabilities registry.Capabilities `json:"capabilities"`
}

// List reports the registered providers and their declared capabilities.
func (h *ProviderHandler) List(c *gin.Context) {
	ids := h.registry.IDs()
	out := make([]providerInfo, 0, len(ids))
	for _, id := range ids {
		cand, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		out = append(out, providerInfo{
			ID:           cand.Registration.ID,
			Priority:     cand.Registration.Priority,
			Weight:       cand.Registration.Weight,
			Capabilities: cand.Registration.Capabilities,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}
