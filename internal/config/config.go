package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/makaronz/animatize/internal/adapters/providers/factory"
	"github.com/makaronz/animatize/internal/registry"
)

// Config is the full configuration surface of the orchestration service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Circuit      CircuitConfig      `mapstructure:"circuit"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Providers    []ProviderConfig   `mapstructure:"providers"`
}

type ServerConfig struct {
	Port    string   `mapstructure:"port"`
	Env     string   `mapstructure:"env"`
	APIKeys []string `mapstructure:"api_keys"`
	// RequestsPerSecond / Burst throttle the HTTP surface per client IP.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type OrchestratorConfig struct {
	RoutingStrategy       string `mapstructure:"routing_strategy"`
	DefaultTimeoutSeconds int    `mapstructure:"default_timeout_seconds"`
}

type CacheConfig struct {
	Strategy     string `mapstructure:"cache_strategy"`
	TTLSeconds   int    `mapstructure:"cache_ttl_seconds"`
	L1MaxSize    int    `mapstructure:"l1_max_size"`
	L2MaxSize    int    `mapstructure:"l2_max_size"`
	L2Backend    string `mapstructure:"l2_backend"` // memory, sqlite, redis
	SQLiteDSN    string `mapstructure:"sqlite_dsn"`
	SweepSeconds int    `mapstructure:"sweep_seconds"`
}

type CircuitConfig struct {
	FailureThreshold int `mapstructure:"circuit_failure_threshold"`
	CooldownSeconds  int `mapstructure:"circuit_cooldown_seconds"`
	HalfOpenMax      int `mapstructure:"circuit_half_open_max"`
}

type RetryConfig struct {
	MaxAttempts   int `mapstructure:"retry_max_attempts"`
	BaseBackoffMS int `mapstructure:"retry_base_backoff_ms"`
	MaxBackoffMS  int `mapstructure:"retry_max_backoff_ms"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig combines a provider's registration metadata with its adapter
// wiring.
type ProviderConfig struct {
	registry.Registration `mapstructure:",squash"`
	Adapter               factory.AdapterConfig `mapstructure:"adapter"`
}

// Durations.
func (c OrchestratorConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}
func (c CircuitConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}
func (c RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}
func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// API keys declared as ENV:NAME resolve from the process environment
	for i, p := range cfg.Providers {
		if name, ok := strings.CutPrefix(p.Adapter.APIKey, "ENV:"); ok {
			cfg.Providers[i].Adapter.APIKey = os.Getenv(name)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.requests_per_second", 25.0)
	v.SetDefault("server.burst", 50)

	v.SetDefault("orchestrator.routing_strategy", "priority")
	v.SetDefault("orchestrator.default_timeout_seconds", 120)

	v.SetDefault("cache.cache_strategy", "lru")
	v.SetDefault("cache.cache_ttl_seconds", 3600)
	v.SetDefault("cache.l1_max_size", 256)
	v.SetDefault("cache.l2_max_size", 4096)
	v.SetDefault("cache.l2_backend", "memory")
	v.SetDefault("cache.sqlite_dsn", "file:animatize_cache.db?_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("cache.sweep_seconds", 60)

	v.SetDefault("circuit.circuit_failure_threshold", 5)
	v.SetDefault("circuit.circuit_cooldown_seconds", 30)
	v.SetDefault("circuit.circuit_half_open_max", 1)

	v.SetDefault("retry.retry_max_attempts", 3)
	v.SetDefault("retry.retry_base_backoff_ms", 100)
	v.SetDefault("retry.retry_max_backoff_ms", 10000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}
