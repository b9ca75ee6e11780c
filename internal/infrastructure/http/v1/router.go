// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reservation"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Ledger       *ledger.Service
	Reservations *reservation.Service

	// DB is pinged by the readiness probe. Optional.
	DB handlers.Pinger

	// PoolStats feeds /health/info. Optional.
	PoolStats func() postgres.PoolStats

	// Metrics observes HTTP traffic. Optional.
	Metrics middleware.HTTPObserver

	// MetricsHandler is served on /metrics. Optional.
	MetricsHandler http.Handler

	Logger  *logger.Logger
	Version string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.PoolStats, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	{
		registerLedgerRoutes(v1.Group("/ledger"), handlers.NewLedgerHandler(base, cfg.Ledger))
		registerReservationRoutes(v1.Group("/reservations"), handlers.NewReservationHandler(base, cfg.Reservations))
	}

	return router
}

func registerLedgerRoutes(group *gin.RouterGroup, h *handlers.LedgerHandler) {
	group.POST("/movements", h.ApplyMovement)
	group.POST("/entries/:id/reverse", h.ReverseMovement)
	group.GET("/entries", h.ListEntries)
	group.POST("/transfers", h.Transfer)
	group.POST("/in-flight", h.AdjustInFlight)
	group.PUT("/thresholds", h.SetThresholds)
	group.GET("/products/:productId/aggregate", h.GetAggregate)
	group.GET("/products/:productId/locations", h.ListLedgers)
	group.GET("/below-minimum", h.ListBelowMinimum)
}

func registerReservationRoutes(group *gin.RouterGroup, h *handlers.ReservationHandler) {
	group.POST("", h.Reserve)
	group.GET("", h.ListByDemand)
	group.GET("/:id", h.Get)
	group.POST("/:id/release", h.Release)
	group.POST("/:id/fulfill", h.Fulfill)
	group.POST("/:id/cancel", h.Cancel)
}
