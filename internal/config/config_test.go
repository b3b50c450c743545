package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)

	assert.Equal(t, "priority", cfg.Orchestrator.RoutingStrategy)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.DefaultTimeout())

	assert.Equal(t, "lru", cfg.Cache.Strategy)
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
	assert.Equal(t, "memory", cfg.Cache.L2Backend)
	assert.Equal(t, 256, cfg.Cache.L1MaxSize)
	assert.Equal(t, 4096, cfg.Cache.L2MaxSize)
	assert.Equal(t, time.Minute, cfg.Cache.SweepInterval())

	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Circuit.Cooldown())
	assert.Equal(t, 1, cfg.Circuit.HalfOpenMax)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseBackoff())
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff())

	assert.Empty(t, cfg.Providers)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ANIMATIZE_TEST_KEY", "sk-resolved")

	writeFile(t, dir+"/config.yaml", `
server:
  port: "9090"
  api_keys: ["sk-client"]
orchestrator:
  routing_strategy: latency
cache:
  cache_strategy: lfu
  cache_ttl_seconds: 60
  l2_backend: sqlite
providers:
  - id: flux
    priority: 1
    weight: 3
    rate_limit_per_minute: 60
    max_concurrency: 4
    capabilities:
      media_types: [image]
      models: [flux-dev, flux-pro]
      max_width: 2048
      max_height: 2048
    adapter:
      id: flux
      type: mock
      api_key: "ENV:ANIMATIZE_TEST_KEY"
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"sk-client"}, cfg.Server.APIKeys)
	assert.Equal(t, "latency", cfg.Orchestrator.RoutingStrategy)
	assert.Equal(t, "lfu", cfg.Cache.Strategy)
	assert.Equal(t, time.Minute, cfg.Cache.TTL())
	assert.Equal(t, "sqlite", cfg.Cache.L2Backend)

	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, "flux", p.ID)
	assert.Equal(t, 3, p.Weight)
	assert.Equal(t, 60, p.RateLimitPerMinute)
	assert.Equal(t, []string{"flux-dev", "flux-pro"}, p.Capabilities.Models)
	assert.Equal(t, 2048, p.Capabilities.MaxWidth)
	assert.Equal(t, "mock", p.Adapter.Type)
	assert.Equal(t, "sk-resolved", p.Adapter.APIKey)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
