package ports

import (
	"context"

	"github.com/makaronz/animatize/pkg/schema"
)

// ProviderAdapter is the only boundary the router crosses. Adapters translate
// the unified schema into vendor-specific calls and map vendor errors onto the
// closed taxonomy in internal/core/domain, including the retryable flag, which
// the router trusts verbatim.
type ProviderAdapter interface {
	ID() string
	Invoke(ctx context.Context, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error)
}

// Orchestrator is the façade contract exposed to transport handlers. It never
// returns an error: all failures become a failed-status envelope.
type Orchestrator interface {
	Handle(ctx context.Context, req *schema.UnifiedRequest) *schema.UnifiedResponse
}
