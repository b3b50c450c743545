package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/makaronz/animatize/internal/breaker"
	"github.com/makaronz/animatize/internal/config"
	"github.com/makaronz/animatize/internal/orchestrator"
	"github.com/makaronz/animatize/internal/registry"
	"github.com/makaronz/animatize/internal/server/middleware"
)

const serviceName = "animatize"

type Server struct {
	router   *gin.Engine
	config   *config.Config
	logger   *zap.Logger
	orch     *orchestrator.Orchestrator
	breakers *breaker.Pool
	registry *registry.Registry
}

func New(cfg *config.Config, logger *zap.Logger, orch *orchestrator.Orchestrator, breakers *breaker.Pool, reg *registry.Registry) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(middleware.Tracing(serviceName))

	s := &Server{
		router:   engine,
		config:   cfg,
		logger:   logger,
		orch:     orch,
		breakers: breakers,
		registry: reg,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
