// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/security"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/http/v1/handlers"
	"quartermaster/internal/infrastructure/http/v1/middleware"
	"quartermaster/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Idempotency replays retried POSTs; nil disables it.
	Idempotency middleware.IdempotencyStore

	// Health serves /health/*
	Health *handlers.HealthHandler

	Ledger     *ledger.Service
	Reserve    *reserve.Service
	Custody    *custody.Service
	BOQ        *boq.Service
	Authorizer security.ReserveAuthorizer

	// CustodyMaxDays is the default overdue threshold.
	CustodyMaxDays int

	// Debug enables gin debug mode.
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth)
	if cfg.Health != nil {
		health := router.Group("/health")
		health.GET("/live", cfg.Health.Live)
		health.GET("/ready", cfg.Health.Ready)
		health.GET("/info", cfg.Health.Info)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	v1.Use(middleware.Idempotency(cfg.Idempotency))

	base := handlers.NewBaseHandler()
	registerLedgerRoutes(v1, handlers.NewLedgerHandler(base, cfg.Ledger, cfg.Reserve, cfg.Authorizer))
	registerReserveRoutes(v1, handlers.NewReserveHandler(base, cfg.Reserve, cfg.Ledger.Thresholds()))
	registerCustodyRoutes(v1, handlers.NewCustodyHandler(base, cfg.Custody, cfg.CustodyMaxDays))
	registerBOQRoutes(v1, handlers.NewBOQHandler(base, cfg.BOQ))

	return router
}
