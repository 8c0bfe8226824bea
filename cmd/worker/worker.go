package main

import (
	"context"
	"time"

	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/ledger"
	"quartermaster/pkg/logger"
)

const (
	workerUserID   = "system:worker"
	publishedTTL   = 7 * 24 * time.Hour
	defaultPoll    = time.Minute
	defaultScan    = time.Hour
	cleanupEveryScans = 24
)

// OverdueNotifier reports custody held past the limit.
type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context, maxDays int, now time.Time) (int, error)
}

// LowStockLister lists entries below their reorder point.
type LowStockLister interface {
	ListLowStock(ctx context.Context, warehouseID *id.ID) ([]ledger.LowStockItem, error)
}

// OutboxRelay publishes pending outbox rows.
type OutboxRelay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
	PurgePublished(ctx context.Context, age time.Duration) (int64, error)
}

// Config sets the worker cadence.
type Config struct {
	PollInterval   time.Duration
	ScanInterval   time.Duration
	CustodyMaxDays int
}

// Worker runs periodic jobs until its context is cancelled.
type Worker struct {
	cfg     Config
	custody OverdueNotifier
	stock   LowStockLister
	relay   OutboxRelay
	log     *logger.Logger
	now     func() time.Time

	scans int
}

// NewWorker creates a worker. A nil relay disables outbox publishing.
func NewWorker(cfg Config, custody OverdueNotifier, stock LowStockLister, relay OutboxRelay, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPoll
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScan
	}
	return &Worker{
		cfg:     cfg,
		custody: custody,
		stock:   stock,
		relay:   relay,
		log:     log.WithComponent("worker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: workerUserID, IsAdmin: true})
	ctx = logger.WithLogger(ctx, w.log)

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	scan := time.NewTicker(w.cfg.ScanInterval)
	defer scan.Stop()

	w.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			w.RelayOutbox(ctx)
		case <-scan.C:
			w.Scan(ctx)
		}
	}
}

// RelayOutbox publishes one outbox batch.
func (w *Worker) RelayOutbox(ctx context.Context) {
	if w.relay == nil {
		return
	}
	n, err := w.relay.ProcessBatch(ctx)
	if err != nil {
		w.log.Errorw("outbox batch failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debugw("published outbox batch", "count", n)
	}
}

// Scan reports overdue custody and low stock. Every cleanupEveryScans scans it
// also moves failed outbox rows to the DLQ and purges old published rows.
func (w *Worker) Scan(ctx context.Context) {
	if w.cfg.CustodyMaxDays > 0 {
		n, err := w.custody.NotifyOverdue(ctx, w.cfg.CustodyMaxDays, w.now())
		if err != nil {
			w.log.Errorw("overdue custody scan failed", "error", err)
		} else if n > 0 {
			w.log.Infow("overdue custody found", "count", n, "max_days", w.cfg.CustodyMaxDays)
		}
	}

	items, err := w.stock.ListLowStock(ctx, nil)
	if err != nil {
		w.log.Errorw("low stock scan failed", "error", err)
	} else {
		for _, item := range items {
			w.log.Warnw("stock below reorder point",
				"warehouse_id", item.Entry.WarehouseID,
				"item_id", item.Entry.ItemID,
				"total", item.Entry.TotalQuantity.String(),
				"reorder_point", item.Entry.ReorderPoint.String(),
				"critical", item.Level.Critical,
				"reserve_below_minimum", item.Level.ReserveBelowMinimum,
			)
		}
	}

	if w.scans%cleanupEveryScans == 0 {
		w.cleanupOutbox(ctx)
	}
	w.scans++
}

func (w *Worker) cleanupOutbox(ctx context.Context) {
	if w.relay == nil {
		return
	}
	if moved, err := w.relay.MoveToDLQ(ctx); err != nil {
		w.log.Errorw("failed to move outbox messages to DLQ", "error", err)
	} else if moved > 0 {
		w.log.Warnw("outbox messages moved to DLQ", "count", moved)
	}
	if purged, err := w.relay.PurgePublished(ctx, publishedTTL); err != nil {
		w.log.Errorw("failed to purge published outbox messages", "error", err)
	} else if purged > 0 {
		w.log.Infow("purged published outbox messages", "count", purged)
	}
}
