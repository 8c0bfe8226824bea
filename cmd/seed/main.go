// Package main provides a CLI tool for seeding demo workers and stock and
// printing development bearer tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"quartermaster/internal/app"
	"quartermaster/internal/config"
	"quartermaster/internal/domain/auth"
	"quartermaster/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Process:     "seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx := context.Background()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer func() { _ = application.Close(ctx) }()

	if application.Storage == app.StorageMemory {
		log.Warn("DATABASE_URL is not set; demo data lives only for this process")
	}

	if os.Getenv("SEED_DEMO_DATA") != "false" {
		summary, err := seedDemoData(ctx, application)
		if err != nil {
			log.Fatalw("failed to seed demo data", "error", err)
		}
		log.Infow("demo data seeded",
			"warehouse_id", summary.WarehouseID,
			"workers", len(summary.Workers),
			"entries", summary.Entries,
		)
	}

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.AccessTokenTTL = 12 * time.Hour
	tokens, err := devTokens(auth.NewJWTService(jwtCfg))
	if err != nil {
		log.Fatalw("failed to issue tokens", "error", err)
	}
	for _, t := range tokens {
		fmt.Printf("%-12s %s\n", t.Role, t.Token)
	}

	log.Info("seeding completed successfully")
}
