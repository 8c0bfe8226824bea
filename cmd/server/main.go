// Package main is the entry point for the Quartermaster API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quartermaster/internal/app"
	"quartermaster/internal/config"
	v1 "quartermaster/internal/infrastructure/http/v1"
	"quartermaster/internal/infrastructure/http/v1/handlers"
	"quartermaster/internal/infrastructure/http/v1/middleware"
	"quartermaster/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Process:     "server",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Infow("starting quartermaster server", "version", version, "env", cfg.Environment)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}

	var idempotency middleware.IdempotencyStore
	if store := application.IdempotencyStore(); store != nil {
		idempotency = store
	} else {
		log.Warn("REDIS_ADDR not set; idempotency keys are ignored")
	}

	health := handlers.NewHealthHandler(version, application.Storage, application.PoolStats,
		handlers.HealthCheck{Name: application.Storage, Ping: application.Ping},
	)

	router := v1.NewRouter(v1.RouterConfig{
		Logger:         log,
		JWTValidator:   application.JWT,
		Idempotency:    idempotency,
		Health:         health,
		Ledger:         application.Ledger,
		Reserve:        application.Reserve,
		Custody:        application.Custody,
		BOQ:            application.BOQ,
		Authorizer:     application.Authorizer,
		CustodyMaxDays: cfg.CustodyMaxDays,
		Debug:          cfg.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr, "storage", application.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	if err := application.Close(shutdownCtx); err != nil {
		log.Errorw("failed to close application", "error", err)
	}

	log.Info("server stopped")
}
