// Package mock is a scriptable in-process provider adapter used by tests,
// benchmarks, and local development. It honors the adapter contract exactly:
// typed errors from the closed taxonomy, returned within the request timeout.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/makaronz/animatize/internal/adapters/providers/factory"
	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/core/ports"
	"github.com/makaronz/animatize/pkg/schema"
)

func init() {
	factory.Register("mock", func(cfg factory.AdapterConfig) (ports.ProviderAdapter, error) {
		a := New(cfg.ID)
		if v, ok := cfg.Options["latency_ms"]; ok {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("mock adapter %s: bad latency_ms %q", cfg.ID, v)
			}
			a.Latency = time.Duration(ms) * time.Millisecond
		}
		if v, ok := cfg.Options["fail_first"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("mock adapter %s: bad fail_first %q", cfg.ID, v)
			}
			a.FailFirst(n, domain.RateLimited(cfg.ID, 0))
		}
		return a, nil
	})
}

// Adapter simulates a generation backend.
type Adapter struct {
	id      string
	calls   atomic.Int64
	Latency time.Duration

	// Script, when set, decides the outcome of each call by 1-based call
	// number. A nil entry (or missing call number) means success.
	Script map[int]error
}

// New creates a mock adapter that always succeeds instantly.
func New(id string) *Adapter {
	return &Adapter{id: id}
}

// FailFirst scripts the first n calls to fail with err.
func (a *Adapter) FailFirst(n int, err error) *Adapter {
	if a.Script == nil {
		a.Script = make(map[int]error, n)
	}
	for i := 1; i <= n; i++ {
		a.Script[i] = err
	}
	return a
}

// Calls reports how many times Invoke ran.
func (a *Adapter) Calls() int { return int(a.calls.Load()) }

func (a *Adapter) ID() string { return a.id }

// Invoke produces a fake generation result, honoring context cancellation
// during the simulated latency.
func (a *Adapter) Invoke(ctx context.Context, req *schema.UnifiedRequest) (*schema.UnifiedResponse, error) {
	call := int(a.calls.Add(1))

	if a.Latency > 0 {
		timer := time.NewTimer(a.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, domain.Timeout(a.id, ctx.Err())
		}
	}

	if err, ok := a.Script[call]; ok && err != nil {
		return nil, err
	}

	result := &schema.GenerationResult{
		URL:         fmt.Sprintf("https://assets.invalid/%s/%s", a.id, req.RequestID),
		ContentType: contentTypeFor(req.MediaType),
		Width:       1024,
		Height:      1024,
	}
	if req.MediaType == schema.MediaVideo {
		result.DurationSeconds = 4
	}

	return &schema.UnifiedResponse{
		RequestID: req.RequestID,
		Provider:  a.id,
		Model:     req.Model,
		Status:    schema.StatusSuccess,
		Result:    result,
		Timestamp: time.Now(),
		Usage:     &schema.Usage{CostUSD: 0.01, NumOutputs: 1},
	}, nil
}

func contentTypeFor(mt schema.MediaType) string {
	switch mt {
	case schema.MediaVideo:
		return "video/mp4"
	default:
		return "image/png"
	}
}
