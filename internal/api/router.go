package api

import (
	"net/http"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/api/handlers"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/api/middleware"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/integration"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Dependencies are the components the router exposes over HTTP
type Dependencies struct {
	Service   *integration.Service
	Hub       *websocket.Hub
	Health    *metrics.HealthChecker
	Collector metrics.MetricsCollector
	// MetricsHandler serves /metrics; nil disables the endpoint
	MetricsHandler http.Handler
}

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, deps Dependencies, logger *logrus.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case "release", "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ErrorHandlingMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	if cfg.Security.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins))
	}
	router.Use(middleware.MetricsMiddleware(deps.Collector))
	router.NoRoute(middleware.NotFoundHandler())

	h := handlers.NewHandlers(deps.Service, deps.Health, logger)

	// Public routes
	router.GET("/health", h.Health)
	router.GET("/version", h.Version)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	if deps.Hub != nil {
		router.GET("/ws", websocket.HandleWebSocketGin(deps.Hub))
	}

	api := router.Group("/api/v1")
	{
		entries := api.Group("/entries")
		{
			entries.GET("", h.GetEntries)
			entries.POST("", h.CreateEntry)
			entries.GET("/:id", h.GetEntry)
			entries.DELETE("/:id", h.DeleteEntry)
			entries.POST("/:id/reload", h.ReloadEntry)
		}

		entities := api.Group("/entities")
		{
			entities.GET("", h.GetEntities)
			entities.GET("/:id", h.GetEntity)
			entities.POST("/:id/command", h.SendEntityCommand)
		}

		devices := api.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.POST("/:id/refresh", h.RefreshDevice)
		}
	}

	return router
}
