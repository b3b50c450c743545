package server

import (
	"github.com/makaronz/animatize/internal/server/middleware"
	v1 "github.com/makaronz/animatize/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	limiter := middleware.NewRateLimiter(s.config.Server.RequestsPerSecond, s.config.Server.Burst, s.logger)

	api := s.router.Group("/v1")
	api.Use(limiter.Middleware())
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	{
		generateHandler := v1.NewGenerateHandler(s.orch)
		api.POST("/generate", generateHandler.Generate)

		statsHandler := v1.NewStatsHandler(s.orch, s.breakers, s.registry)
		api.GET("/stats", statsHandler.Stats)
		api.DELETE("/cache", statsHandler.InvalidateCache)

		providerHandler := v1.NewProviderHandler(s.registry)
		api.GET("/providers", providerHandler.List)
	}
}
