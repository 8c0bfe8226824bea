// Package main is the entry point for the Quartermaster background worker.
// It relays the notification outbox, reports overdue custody and scans for low stock.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quartermaster/internal/app"
	"quartermaster/internal/config"
	"quartermaster/internal/domain/notify"
	"quartermaster/internal/infrastructure/storage/postgres"
	"quartermaster/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Process:     "worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if cfg.UseMemoryStore() {
		log.Fatal("DATABASE_URL is required: the worker has nothing to do on the in-memory store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting quartermaster worker")

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}

	var relay OutboxRelay
	if cfg.NotifySink == config.SinkOutbox {
		handler, err := outboxHandler(application)
		if err != nil {
			log.Fatalw("failed to initialize outbox handler", "error", err)
		}
		if relay, err = postgres.NewOutboxRelay(application.PgTx, cfg.OutboxBatchSize, handler); err != nil {
			log.Fatalw("failed to initialize outbox relay", "error", err)
		}
	}

	worker := NewWorker(Config{
		PollInterval:   cfg.WorkerPollInterval,
		ScanInterval:   time.Hour,
		CustodyMaxDays: cfg.CustodyMaxDays,
	}, application.Custody, application.Ledger, relay, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := application.Close(shutdownCtx); err != nil {
		log.Errorw("failed to close application", "error", err)
	}
	log.Info("worker stopped")
}

// outboxHandler publishes relayed events to RabbitMQ when configured,
// otherwise writes them to the log.
func outboxHandler(a *app.App) (postgres.OutboxHandler, error) {
	if a.Config.RabbitMQURL == "" {
		return sinkHandler{notify.LogSink{}}, nil
	}
	return a.RabbitPublisher()
}

// sinkHandler adapts a notify.Sink to postgres.OutboxHandler.
type sinkHandler struct {
	sink notify.Sink
}

func (h sinkHandler) Handle(ctx context.Context, event notify.Event) error {
	return h.sink.Deliver(ctx, event)
}
