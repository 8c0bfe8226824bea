package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/notify"
	"quartermaster/pkg/logger"
)

type fakeCustody struct {
	calls   int
	maxDays int
	err     error
}

func (f *fakeCustody) NotifyOverdue(_ context.Context, maxDays int, _ time.Time) (int, error) {
	f.calls++
	f.maxDays = maxDays
	return 2, f.err
}

type fakeStock struct {
	calls int
	items []ledger.LowStockItem
}

func (f *fakeStock) ListLowStock(_ context.Context, _ *id.ID) ([]ledger.LowStockItem, error) {
	f.calls++
	return f.items, nil
}

type fakeRelay struct {
	batches     atomic.Int32
	dlq, purges int
	purgeAge    time.Duration
	err         error
}

func (f *fakeRelay) ProcessBatch(context.Context) (int, error) {
	f.batches.Add(1)
	return 3, f.err
}

func (f *fakeRelay) MoveToDLQ(context.Context) (int64, error) {
	f.dlq++
	return 0, nil
}

func (f *fakeRelay) PurgePublished(_ context.Context, age time.Duration) (int64, error) {
	f.purges++
	f.purgeAge = age
	return 0, nil
}

func TestWorker_ScanRunsJobs(t *testing.T) {
	custody := &fakeCustody{}
	stock := &fakeStock{items: []ledger.LowStockItem{{
		Entry: &ledger.Entry{WarehouseID: id.New(), ItemID: id.New(), TotalQuantity: types.NewQuantity(1), ReorderPoint: types.NewQuantity(5)},
		Level: ledger.Level{BelowReorderPoint: true, Critical: true},
	}}}
	relay := &fakeRelay{}
	w := NewWorker(Config{CustodyMaxDays: 14}, custody, stock, relay, logger.Nop())

	w.Scan(context.Background())
	assert.Equal(t, 1, custody.calls)
	assert.Equal(t, 14, custody.maxDays)
	assert.Equal(t, 1, stock.calls)
	assert.Equal(t, 1, relay.dlq, "first scan cleans the outbox")
	assert.Equal(t, publishedTTL, relay.purgeAge)

	w.Scan(context.Background())
	assert.Equal(t, 2, custody.calls)
	assert.Equal(t, 1, relay.dlq, "cleanup runs once per cycle")
}

func TestWorker_ScanSkipsDisabledOverdue(t *testing.T) {
	custody := &fakeCustody{}
	w := NewWorker(Config{}, custody, &fakeStock{}, nil, logger.Nop())
	w.Scan(context.Background())
	assert.Zero(t, custody.calls)
}

func TestWorker_ScanContinuesAfterFailure(t *testing.T) {
	custody := &fakeCustody{err: errors.New("db down")}
	stock := &fakeStock{}
	w := NewWorker(Config{CustodyMaxDays: 30}, custody, stock, nil, logger.Nop())
	w.Scan(context.Background())
	assert.Equal(t, 1, stock.calls)
}

func TestWorker_RelayOutbox(t *testing.T) {
	relay := &fakeRelay{}
	w := NewWorker(Config{}, &fakeCustody{}, &fakeStock{}, relay, logger.Nop())
	w.RelayOutbox(context.Background())
	w.RelayOutbox(context.Background())
	assert.Equal(t, int32(2), relay.batches.Load())

	NewWorker(Config{}, &fakeCustody{}, &fakeStock{}, nil, logger.Nop()).RelayOutbox(context.Background())
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	relay := &fakeRelay{}
	w := NewWorker(Config{PollInterval: time.Millisecond, ScanInterval: time.Hour}, &fakeCustody{}, &fakeStock{}, relay, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return relay.batches.Load() > 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSinkHandler_DeliversToSink(t *testing.T) {
	rec := &notify.Recorder{}
	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: workerUserID})
	event := notify.NewEvent(ctx, notify.EventCustodyOverdue, "custody", id.New(), nil)

	require.NoError(t, sinkHandler{rec}.Handle(ctx, event))
	require.Len(t, rec.OfType(notify.EventCustodyOverdue), 1)
	assert.Equal(t, workerUserID, rec.Events()[0].Actor)
}
