package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rediscache "github.com/makaronz/animatize/internal/adapters/cache/redis"
	sqlitecache "github.com/makaronz/animatize/internal/adapters/cache/sqlite"
	"github.com/makaronz/animatize/internal/adapters/providers/factory"
	"github.com/makaronz/animatize/internal/breaker"
	"github.com/makaronz/animatize/internal/cache"
	"github.com/makaronz/animatize/internal/config"
	"github.com/makaronz/animatize/internal/orchestrator"
	"github.com/makaronz/animatize/internal/platform/logger"
	"github.com/makaronz/animatize/internal/platform/otel"
	"github.com/makaronz/animatize/internal/ratelimit"
	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/internal/router"
	"github.com/makaronz/animatize/internal/server"

	// Adapter types register themselves with the factory in init()
	_ "github.com/makaronz/animatize/internal/adapters/providers/mock"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	shutdownTracer, err := otel.InitTracer(otel.Config{
		ServiceName: "animatize",
		Environment: cfg.Server.Env,
		Writer:      os.Stdout,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	tiered, err := buildCache(cfg, log)
	if err != nil {
		log.Fatal("failed to build cache", zap.Error(err))
	}
	defer tiered.Close()

	breakers := breaker.NewPool(breaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         cfg.Circuit.Cooldown(),
		HalfOpenMax:      cfg.Circuit.HalfOpenMax,
	})
	limits := ratelimit.NewPool(ratelimit.Limits{})

	reg := registry.New()
	for _, p := range cfg.Providers {
		adapter, err := factory.New(p.Adapter)
		if err != nil {
			log.Error("skipping provider", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		if err := reg.Register(p.Registration, adapter); err != nil {
			log.Error("skipping provider", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		limits.Configure(p.ID, ratelimit.Limits{
			PerMinute:      p.RateLimitPerMinute,
			MaxConcurrency: p.MaxConcurrency,
		})
		log.Info("registered provider",
			zap.String("id", p.ID),
			zap.String("type", p.Adapter.Type),
			zap.Int("priority", p.Priority),
		)
	}

	strategy, err := router.StrategyFor(cfg.Orchestrator.RoutingStrategy, nil)
	if err != nil {
		log.Fatal("invalid routing strategy", zap.Error(err))
	}

	rt := router.New(reg, breakers, limits, strategy, router.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff(),
		MaxBackoff:  cfg.Retry.MaxBackoff(),
	}, log)

	orch := orchestrator.New(rt, tiered, nil, nil, orchestrator.Config{
		DefaultTTL:     cfg.Cache.TTL(),
		DefaultTimeout: cfg.Orchestrator.DefaultTimeout(),
	}, log)

	srv := server.New(cfg, log, orch, breakers, reg)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

func buildCache(cfg *config.Config, log *zap.Logger) (*cache.Tiered, error) {
	l1, err := cache.NewStore(cfg.Cache.Strategy, cfg.Cache.L1MaxSize, nil)
	if err != nil {
		return nil, err
	}

	var l2 cache.Store
	switch cfg.Cache.L2Backend {
	case "sqlite":
		l2, err = sqlitecache.New(cfg.Cache.SQLiteDSN)
	case "redis":
		l2, err = rediscache.New(goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	case "memory", "":
		l2, err = cache.NewStore(cfg.Cache.Strategy, cfg.Cache.L2MaxSize, nil)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.L2Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info("cache tiers ready",
		zap.String("strategy", cfg.Cache.Strategy),
		zap.String("l2_backend", cfg.Cache.L2Backend),
	)

	return cache.New(cache.Config{
		L1:            l1,
		L2:            l2,
		DefaultTTL:    cfg.Cache.TTL(),
		SweepInterval: cfg.Cache.SweepInterval(),
		Logger:        log,
	}), nil
}
