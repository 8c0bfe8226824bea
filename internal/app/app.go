// Package app assembles the stores, services and sinks shared by
// cmd/server, cmd/worker and cmd/seed from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"quartermaster/internal/config"
	"quartermaster/internal/core/numerator"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/domain/auth"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/notify"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/cache"
	"quartermaster/internal/infrastructure/messaging"
	pgnumerator "quartermaster/internal/infrastructure/numerator"
	"quartermaster/internal/infrastructure/storage/memory"
	"quartermaster/internal/infrastructure/storage/postgres"
	"quartermaster/internal/infrastructure/storage/postgres/inventory_repo"
	"quartermaster/pkg/logger"
)

// Storage names reported by /health/info.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// WorkerStore reads and registers custody workers.
type WorkerStore interface {
	custody.WorkerDirectory
	Save(ctx context.Context, w *custody.Worker) error
}

// App holds the wired services. Close releases everything it opened.
type App struct {
	Config  config.Config
	Storage string

	Pool      *postgres.Pool
	PgTx      *postgres.TxManager
	TxManager tx.Manager
	Redis     redis.UniversalClient
	Publisher *messaging.Publisher

	Authorizer *security.CELPolicy
	JWT        *auth.JWTService
	Notifier   *notify.Dispatcher
	Workers    WorkerStore

	Ledger  *ledger.Service
	Reserve *reserve.Service
	Custody *custody.Service
	BOQ     *boq.Service

	closers []func(ctx context.Context) error
}

// New wires an App from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	a.JWT = auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))

	if a.Authorizer, err = security.NewCELPolicy(cfg.ReservePolicy); err != nil {
		return nil, fmt.Errorf("compile reserve policy: %w", err)
	}

	var (
		ledgerRepo  ledger.Repository
		custodyRepo custody.Repository
		boqRepo     boq.Repository
		gen         numerator.Generator
	)

	if cfg.UseMemoryStore() {
		a.Storage = StorageMemory
		store := memory.NewStore()
		a.TxManager = memory.NewTxManager(store)
		ledgerRepo = memory.NewLedgerRepo(store)
		custodyRepo = memory.NewCustodyRepo(store)
		boqRepo = memory.NewBOQRepo(store)
		a.Workers = memory.NewWorkerRepo(store)
		gen = numerator.NewMemoryGenerator()
	} else {
		a.Storage = StoragePostgres
		if a.Pool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL)); err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { a.Pool.Close(); return nil })

		if cfg.AutoMigrate {
			if err = postgres.ApplySchema(ctx, a.Pool); err != nil {
				return nil, err
			}
		}

		a.PgTx = postgres.NewTxManager(a.Pool)
		a.TxManager = a.PgTx
		ledgerRepo = inventory_repo.NewLedgerRepo(a.PgTx)
		custodyRepo = inventory_repo.NewCustodyRepo(a.PgTx)
		boqRepo = inventory_repo.NewBOQRepo(a.PgTx)
		a.Workers = inventory_repo.NewWorkerRepo(a.PgTx)
		gen = pgnumerator.NewWithQuerierFunc(func(ctx context.Context) pgnumerator.Querier {
			return a.PgTx.GetQuerier(ctx)
		})
	}

	var availability ledger.AvailabilityCache
	if cfg.UseRedis() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		availability = cache.NewRedisAvailabilityCacheFromClient(a.Redis, cfg.AvailabilityCacheTTL)
	}

	sink, err := a.notifySink(cfg)
	if err != nil {
		return nil, err
	}
	a.Notifier = notify.NewDispatcher(sink, 0)
	a.onClose(a.Notifier.Close)

	a.Ledger = ledger.NewService(ledgerRepo, a.TxManager, ledger.Thresholds{CriticalFactor: cfg.CriticalStockFactor}, availability, a.Notifier)
	a.Reserve = reserve.NewService(a.Ledger, a.Authorizer, a.TxManager)
	a.Custody = custody.NewService(custodyRepo, a.Workers, a.Ledger, gen, a.TxManager, a.Notifier)
	a.BOQ = boq.NewService(boqRepo, a.Ledger, a.Authorizer, gen, a.TxManager, a.Notifier)

	logger.Info(ctx, "application wired",
		"storage", a.Storage,
		"redis", cfg.UseRedis(),
		"notify_sink", cfg.NotifySink,
	)
	return a, nil
}

func (a *App) notifySink(cfg config.Config) (notify.Sink, error) {
	switch cfg.NotifySink {
	case config.SinkLog, "":
		return notify.LogSink{}, nil
	case config.SinkOutbox:
		if a.PgTx == nil {
			return nil, errors.New("outbox notifications require DATABASE_URL")
		}
		return postgres.NewOutboxSink(a.PgTx, 0)
	case config.SinkRabbitMQ:
		pub, err := a.RabbitPublisher()
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_SINK %q", cfg.NotifySink)
	}
}

// RabbitPublisher dials RabbitMQ once and reuses the connection.
func (a *App) RabbitPublisher() (*messaging.Publisher, error) {
	if a.Publisher != nil {
		return a.Publisher, nil
	}
	if a.Config.RabbitMQURL == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}
	pub, err := messaging.NewPublisher(a.Config.RabbitMQURL, a.Config.NotifyExchange)
	if err != nil {
		return nil, err
	}
	a.Publisher = pub
	a.onClose(func(context.Context) error { return pub.Close() })
	return pub, nil
}

// IdempotencyStore returns the Redis store, or nil when Redis is not configured.
func (a *App) IdempotencyStore() *cache.RedisIdempotencyStore {
	if a.Redis == nil {
		return nil
	}
	return cache.NewRedisIdempotencyStore(a.Redis, a.Config.IdempotencyTTL)
}

// Ping checks the database and Redis.
func (a *App) Ping(ctx context.Context) error {
	if a.Pool != nil {
		if err := a.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// PoolStats reports connection pool usage for /health/info.
func (a *App) PoolStats() map[string]any {
	if a.Pool == nil {
		return nil
	}
	return postgres.GetPoolStats(a.Pool.Pool).Fields()
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close flushes notifications and closes connections in reverse open order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
