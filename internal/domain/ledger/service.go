package ledger

import (
	"context"
	"fmt"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/notify"
	"quartermaster/pkg/logger"
)

// Service applies atomic mutations to ledger entries.
// Every mutation locks the entry, re-validates against the locked balance,
// saves the entry with its journal rows and schedules post-commit side effects.
type Service struct {
	repo       Repository
	txManager  tx.Manager
	thresholds Thresholds
	cache      AvailabilityCache
	notifier   notify.Notifier
}

// NewService creates a ledger service. A nil cache or notifier disables that concern.
func NewService(
	repo Repository,
	txManager tx.Manager,
	thresholds Thresholds,
	cache AvailabilityCache,
	notifier notify.Notifier,
) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	if thresholds.CriticalFactor.IsZero() {
		thresholds = DefaultThresholds()
	}
	return &Service{
		repo:       repo,
		txManager:  txManager,
		thresholds: thresholds,
		cache:      cache,
		notifier:   notify.OrNop(notifier),
	}
}

// Thresholds returns the configured threshold settings.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// change mutates a locked entry and returns the journal rows describing it.
type change func(e *Entry) ([]Movement, error)

// Receive adds stock to the general and reserve pools, creating the entry on first receipt.
func (s *Service) Receive(ctx context.Context, key Key, generalDelta, reserveDelta types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, true, func(e *Entry) ([]Movement, error) {
		if err := e.Receive(generalDelta, reserveDelta); err != nil {
			return nil, err
		}
		var moves []Movement
		if generalDelta.IsPositive() {
			moves = append(moves, movement(PoolGeneral, MovementReceipt, generalDelta, 0))
		}
		if reserveDelta.IsPositive() {
			moves = append(moves, movement(PoolReserve, MovementReceipt, reserveDelta, 0))
		}
		return moves, nil
	})
}

// AllocateGeneral earmarks general stock. Fails with InsufficientAvailability if qty > availableGeneral.
func (s *Service) AllocateGeneral(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.AllocateGeneral(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolGeneral, MovementAllocate, 0, qty)}, nil
	})
}

// AllocateReserve earmarks reserve stock. Access control is the caller's concern (see package reserve).
func (s *Service) AllocateReserve(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.AllocateReserve(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolReserve, MovementAllocate, 0, qty)}, nil
	})
}

// ReleaseGeneralAllocation turns an earmark into a physical deduction.
func (s *Service) ReleaseGeneralAllocation(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.ReleaseGeneralAllocation(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolGeneral, MovementReleaseAllocation, qty.Neg(), qty.Neg())}, nil
	})
}

// ReleaseReserveAllocation turns a reserve earmark into a physical deduction.
func (s *Service) ReleaseReserveAllocation(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.ReleaseReserveAllocation(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolReserve, MovementReleaseAllocation, qty.Neg(), qty.Neg())}, nil
	})
}

// CancelGeneralAllocation drops an earmark without deducting stock.
func (s *Service) CancelGeneralAllocation(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.CancelGeneralAllocation(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolGeneral, MovementCancelAllocation, 0, qty.Neg())}, nil
	})
}

// CancelReserveAllocation drops a reserve earmark without deducting stock.
func (s *Service) CancelReserveAllocation(ctx context.Context, key Key, qty types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.CancelReserveAllocation(qty); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolReserve, MovementCancelAllocation, 0, qty.Neg())}, nil
	})
}

// AdjustGeneral applies a direct physical change to general stock.
func (s *Service) AdjustGeneral(ctx context.Context, key Key, delta types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.AdjustGeneral(delta); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolGeneral, MovementAdjust, delta, 0)}, nil
	})
}

// AdjustReserve applies a direct physical change to reserve stock.
func (s *Service) AdjustReserve(ctx context.Context, key Key, delta types.Quantity, src Source) (*Entry, error) {
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.AdjustReserve(delta); err != nil {
			return nil, err
		}
		return []Movement{movement(PoolReserve, MovementAdjust, delta, 0)}, nil
	})
}

// MoveBetweenPools shifts unallocated stock from one pool to the other as a single
// mutation. Used by the reserve protocol; total quantity never changes.
func (s *Service) MoveBetweenPools(ctx context.Context, key Key, from Pool, qty types.Quantity, src Source) (*Entry, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, key, src, false, func(e *Entry) ([]Movement, error) {
		if err := e.MoveBetweenPools(from, qty); err != nil {
			return nil, err
		}
		return []Movement{
			movement(from, MovementRebalance, qty.Neg(), 0),
			movement(from.Other(), MovementRebalance, qty, 0),
		}, nil
	})
}

// SetThresholds configures the reorder point and minimum reserve of an existing entry.
func (s *Service) SetThresholds(ctx context.Context, key Key, reorderPoint, minimumReserve types.Quantity) (*Entry, error) {
	entry, err := s.mutate(ctx, key, Source{}, false, func(e *Entry) ([]Movement, error) {
		return nil, e.SetThresholds(reorderPoint, minimumReserve)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "ledger thresholds updated",
		"key", key.String(),
		"reorder_point", reorderPoint.String(),
		"minimum_reserve", minimumReserve.String(),
	)
	return entry, nil
}

// TransferRequest moves general stock of one item between warehouses.
type TransferRequest struct {
	FromWarehouseID id.ID
	ToWarehouseID   id.ID
	ItemID          id.ID
	Quantity        types.Quantity
}

// TransferResult holds both entries after a transfer.
type TransferResult struct {
	From *Entry `json:"from"`
	To   *Entry `json:"to"`
}

// Transfer moves general stock between warehouses in one transaction.
// Entries are locked in key order so opposite transfers cannot deadlock.
// The destination entry is created if missing.
func (s *Service) Transfer(ctx context.Context, req TransferRequest, src Source) (*TransferResult, error) {
	from := Key{WarehouseID: req.FromWarehouseID, ItemID: req.ItemID}
	to := Key{WarehouseID: req.ToWarehouseID, ItemID: req.ItemID}
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return nil, apperror.NewValidation("source and destination warehouse must differ")
	}
	if err := requirePositive(req.Quantity); err != nil {
		return nil, err
	}

	result := &TransferResult{}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		first, second := from, to
		if to.Less(from) {
			first, second = to, from
		}

		locked := make(map[Key]*lockedEntry, 2)
		for _, k := range []Key{first, second} {
			le, err := s.lock(ctx, k, k == to)
			if err != nil {
				return err
			}
			locked[k] = le
		}

		out, in := locked[from], locked[to]
		if err := out.entry.AdjustGeneral(req.Quantity.Neg()); err != nil {
			return err
		}
		if err := in.entry.AdjustGeneral(req.Quantity); err != nil {
			return err
		}

		if err := s.save(ctx, out, src, []Movement{movement(PoolGeneral, MovementTransferOut, req.Quantity.Neg(), 0)}); err != nil {
			return err
		}
		if err := s.save(ctx, in, src, []Movement{movement(PoolGeneral, MovementTransferIn, req.Quantity, 0)}); err != nil {
			return err
		}

		result.From = out.entry
		result.To = in.entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock transferred",
		"item_id", req.ItemID,
		"from", req.FromWarehouseID,
		"to", req.ToWarehouseID,
		"quantity", req.Quantity.String(),
	)
	return result, nil
}

// Get returns the entry for key.
func (s *Service) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, key)
}

// GetForUpdate returns the entry locked for the rest of the surrounding transaction.
// Callers use it to read a balance they are about to mutate.
func (s *Service) GetForUpdate(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var entry *Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.repo.GetForUpdate(ctx, key)
		return err
	})
	return entry, err
}

// GetAvailability returns available general/reserve and total quantity,
// reading through the availability cache.
func (s *Service) GetAvailability(ctx context.Context, key Key) (Availability, error) {
	if err := key.Validate(); err != nil {
		return Availability{}, err
	}

	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		logger.Warn(ctx, "availability cache read failed", "key", key.String(), "error", err)
	} else if ok {
		return cached, nil
	}

	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		return Availability{}, err
	}

	availability := entry.Availability()
	if err := s.cache.Set(ctx, key, availability); err != nil {
		logger.Warn(ctx, "availability cache write failed", "key", key.String(), "error", err)
	}
	return availability, nil
}

// List returns entries matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	return s.repo.List(ctx, filter)
}

// LowStockItem is an entry below its reorder point with its threshold levels.
type LowStockItem struct {
	Entry *Entry `json:"entry"`
	Level Level  `json:"level"`
}

// ListLowStock returns entries below their reorder point, optionally for one warehouse.
func (s *Service) ListLowStock(ctx context.Context, warehouseID *id.ID) ([]LowStockItem, error) {
	entries, err := s.repo.List(ctx, ListFilter{WarehouseID: warehouseID, BelowReorderPoint: true})
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}

	items := make([]LowStockItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, LowStockItem{Entry: e, Level: e.Level(s.thresholds)})
	}
	return items, nil
}

// ListMovements returns the journal of key, newest first.
func (s *Service) ListMovements(ctx context.Context, key Key, filter MovementFilter) ([]Movement, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, key, filter)
}

// --- internals ---

type lockedEntry struct {
	entry  *Entry
	isNew  bool
	before Level
}

func (s *Service) mutate(ctx context.Context, key Key, src Source, createIfMissing bool, fn change) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var result *Entry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		le, err := s.lock(ctx, key, createIfMissing)
		if err != nil {
			return err
		}

		moves, err := fn(le.entry)
		if err != nil {
			return err
		}

		if err := s.save(ctx, le, src, moves); err != nil {
			return err
		}
		result = le.entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) lock(ctx context.Context, key Key, createIfMissing bool) (*lockedEntry, error) {
	entry, err := s.repo.GetForUpdate(ctx, key)
	if err == nil {
		return &lockedEntry{entry: entry, before: entry.Level(s.thresholds)}, nil
	}
	if !createIfMissing || !apperror.IsNotFound(err) {
		return nil, err
	}

	entry = NewEntry(key, appctx.GetUserID(ctx))
	return &lockedEntry{entry: entry, isNew: true, before: entry.Level(s.thresholds)}, nil
}

func (s *Service) save(ctx context.Context, le *lockedEntry, src Source, moves []Movement) error {
	entry := le.entry
	if err := entry.CheckInvariants(); err != nil {
		return apperror.NewInternal(err)
	}

	actor := appctx.GetUserID(ctx)
	entry.Touch(actor)

	if le.isNew {
		if err := s.repo.Create(ctx, entry); err != nil {
			return fmt.Errorf("create ledger entry: %w", err)
		}
		le.isNew = false
	} else if err := s.repo.Update(ctx, entry); err != nil {
		return err
	}

	if len(moves) > 0 {
		now := entry.UpdatedAt
		for i := range moves {
			moves[i].ID = id.New()
			moves[i].WarehouseID = entry.WarehouseID
			moves[i].ItemID = entry.ItemID
			moves[i].RecorderType = src.DocumentType
			moves[i].RecorderID = src.DocumentID
			moves[i].Actor = actor
			moves[i].CreatedAt = now
		}
		if err := s.repo.AppendMovements(ctx, moves); err != nil {
			return fmt.Errorf("append movements: %w", err)
		}
	}

	logger.Debug(ctx, "ledger entry mutated",
		"key", entry.Key().String(),
		"general", entry.GeneralQuantity.String(),
		"reserve", entry.ReserveQuantity.String(),
		"general_allocated", entry.GeneralAllocated.String(),
		"reserve_allocated", entry.ReserveAllocated.String(),
		"recorder_type", src.DocumentType,
	)

	s.scheduleSideEffects(ctx, le.before, entry)
	return nil
}

// scheduleSideEffects registers the cache refresh and threshold notifications
// to run once the transaction commits.
func (s *Service) scheduleSideEffects(ctx context.Context, before Level, entry *Entry) {
	snapshot := *entry
	after := snapshot.Level(s.thresholds)
	key := snapshot.Key()

	tx.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.cache.Set(ctx, key, snapshot.Availability()); err != nil {
			logger.Warn(ctx, "availability cache refresh failed", "key", key.String(), "error", err)
			if err := s.cache.Invalidate(ctx, key); err != nil {
				logger.Warn(ctx, "availability cache invalidation failed", "key", key.String(), "error", err)
			}
		}

		crossed := func(was, is bool) bool { return !was && is }
		if crossed(before.BelowReorderPoint, after.BelowReorderPoint) {
			s.notifier.Notify(ctx, ThresholdEvent(ctx, notify.EventBelowReorderPoint, &snapshot))
		}
		if crossed(before.Critical, after.Critical) {
			s.notifier.Notify(ctx, ThresholdEvent(ctx, notify.EventCriticalStock, &snapshot))
		}
		if crossed(before.ReserveBelowMinimum, after.ReserveBelowMinimum) {
			s.notifier.Notify(ctx, ThresholdEvent(ctx, notify.EventReserveBelowMinimum, &snapshot))
		}
	})
}

// ThresholdEvent builds a stock-level notification for e.
func ThresholdEvent(ctx context.Context, eventType string, e *Entry) notify.Event {
	return notify.NewEvent(ctx, eventType, "ledger_entry", e.ID, map[string]any{
		"warehouseId":            e.WarehouseID.String(),
		"itemId":                 e.ItemID.String(),
		"totalQuantity":          e.TotalQuantity.String(),
		"reserveQuantity":        e.ReserveQuantity.String(),
		"reorderPoint":           e.ReorderPoint.String(),
		"minimumReserveRequired": e.MinimumReserveRequired.String(),
	})
}
