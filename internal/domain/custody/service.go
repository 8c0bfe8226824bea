package custody

import (
	"context"
	"fmt"
	"time"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/entity"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/numerator"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/notify"
	"quartermaster/pkg/logger"
)

// DocumentType is the recorder type written to ledger movements.
const DocumentType = "custody"

// StockLedger is the part of the ledger custody draws on.
type StockLedger interface {
	AdjustGeneral(ctx context.Context, key ledger.Key, delta types.Quantity, src ledger.Source) (*ledger.Entry, error)
}

// Service manages the custody lifecycle.
type Service struct {
	repo      Repository
	workers   WorkerDirectory
	ledger    StockLedger
	numerator numerator.Generator
	txManager tx.Manager
	notifier  notify.Notifier
	now       func() time.Time
}

// NewService creates a custody service.
func NewService(
	repo Repository,
	workers WorkerDirectory,
	stock StockLedger,
	numerator numerator.Generator,
	txManager tx.Manager,
	notifier notify.Notifier,
) *Service {
	return &Service{
		repo:      repo,
		workers:   workers,
		ledger:    stock,
		numerator: numerator,
		txManager: txManager,
		notifier:  notify.OrNop(notifier),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IssueRequest describes a custody issuance.
type IssueRequest struct {
	WorkerID    id.ID
	ItemID      id.ID
	WarehouseID id.ID
	Quantity    types.Quantity
	CustomLimit *types.Quantity
	Comment     string
}

// Issue hands general stock to a worker. The worker must be active, the
// quantity must fit general availability and, with a custom limit, the
// worker's outstanding custody of the item plus qty must not exceed it.
// The worker row stays locked while the limit is checked.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Record, error) {
	if !req.Quantity.IsPositive() {
		return nil, apperror.NewValidation("quantity must be positive").WithDetail("quantity", req.Quantity.String())
	}
	if req.CustomLimit != nil && req.CustomLimit.IsNegative() {
		return nil, apperror.NewValidation("custom limit must not be negative")
	}
	key := ledger.Key{WarehouseID: req.WarehouseID, ItemID: req.ItemID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		worker, err := s.workers.GetWorkerForUpdate(ctx, req.WorkerID)
		if err != nil {
			return err
		}
		if !worker.Active {
			return apperror.NewValidation("worker is not active").WithDetail("worker_id", req.WorkerID.String())
		}

		if req.CustomLimit != nil {
			outstanding, err := s.Outstanding(ctx, worker.ID, req.ItemID)
			if err != nil {
				return err
			}
			if outstanding+req.Quantity > *req.CustomLimit {
				return apperror.NewValidation("custody limit exceeded").
					WithDetail("outstanding", outstanding.String()).
					WithDetail("requested", req.Quantity.String()).
					WithDetail("limit", req.CustomLimit.String())
			}
		}

		number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("CUS"), nil, s.now())
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		rec = &Record{
			AuditableRecord: entity.NewAuditableRecord(appctx.GetUserID(ctx)),
			Number:          number,
			WorkerID:        worker.ID,
			DepartmentID:    worker.DepartmentID,
			WarehouseID:     req.WarehouseID,
			ItemID:          req.ItemID,
			QuantityIssued:  req.Quantity,
			CustomLimit:     req.CustomLimit,
			Status:          StatusActive,
			IssuedAt:        s.now(),
		}
		if err := s.repo.Create(ctx, rec); err != nil {
			return fmt.Errorf("create custody record: %w", err)
		}
		if _, err := s.ledger.AdjustGeneral(ctx, key, req.Quantity.Neg(), s.source(rec)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "custody issued",
		"custody_id", rec.ID,
		"number", rec.Number,
		"worker_id", rec.WorkerID,
		"item_id", rec.ItemID,
		"quantity", rec.QuantityIssued.String(),
	)
	return rec, nil
}

// Return books qty back into the issuing warehouse's general pool.
func (s *Service) Return(ctx context.Context, recordID id.ID, qty types.Quantity, receiverID id.ID) (*Record, error) {
	rec, err := s.update(ctx, recordID, func(ctx context.Context, rec *Record) error {
		if err := rec.applyReturn(qty, receiverID, s.now()); err != nil {
			return err
		}
		key := ledger.Key{WarehouseID: rec.WarehouseID, ItemID: rec.ItemID}
		_, err := s.ledger.AdjustGeneral(ctx, key, qty, s.source(rec))
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "custody returned",
		"custody_id", rec.ID,
		"quantity", qty.String(),
		"status", rec.Status,
	)
	return rec, nil
}

// Consume retires qty as used up. Nothing goes back to the ledger.
func (s *Service) Consume(ctx context.Context, recordID id.ID, qty types.Quantity) (*Record, error) {
	rec, err := s.update(ctx, recordID, func(_ context.Context, rec *Record) error {
		return rec.applyConsume(qty)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "custody consumed",
		"custody_id", rec.ID,
		"quantity", qty.String(),
		"status", rec.Status,
	)
	return rec, nil
}

// Transfer reassigns an active record to another worker. Quantities are untouched.
func (s *Service) Transfer(ctx context.Context, recordID, newWorkerID, newDepartmentID id.ID) (*Record, error) {
	worker, err := s.workers.GetWorker(ctx, newWorkerID)
	if err != nil {
		return nil, err
	}
	if !worker.Active {
		return nil, apperror.NewValidation("worker is not active").WithDetail("worker_id", newWorkerID.String())
	}
	if id.IsNil(newDepartmentID) {
		newDepartmentID = worker.DepartmentID
	}

	rec, err := s.update(ctx, recordID, func(_ context.Context, rec *Record) error {
		return rec.applyTransfer(newWorkerID, newDepartmentID, s.now())
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "custody transferred",
		"custody_id", rec.ID,
		"from_worker", rec.PreviousWorkerID,
		"to_worker", rec.WorkerID,
	)
	return rec, nil
}

// Get returns a custody record.
func (s *Service) Get(ctx context.Context, recordID id.ID) (*Record, error) {
	return s.repo.GetByID(ctx, recordID)
}

// ListByWorker returns a worker's records, open ones only when openOnly is set.
func (s *Service) ListByWorker(ctx context.Context, workerID id.ID, openOnly bool) ([]*Record, error) {
	filter := ListFilter{WorkerID: &workerID}
	if openOnly {
		filter.Statuses = OpenStatuses
	}
	return s.repo.List(ctx, filter)
}

// Outstanding sums the remaining quantity of a worker's open records for an item.
func (s *Service) Outstanding(ctx context.Context, workerID, itemID id.ID) (types.Quantity, error) {
	records, err := s.repo.List(ctx, ListFilter{
		WorkerID: &workerID,
		ItemID:   &itemID,
		Statuses: OpenStatuses,
	})
	if err != nil {
		return 0, fmt.Errorf("list outstanding custody: %w", err)
	}

	var total types.Quantity
	for _, r := range records {
		total += r.Remaining()
	}
	return total, nil
}

// ListOverdue returns records held longer than maxDays as of now.
func (s *Service) ListOverdue(ctx context.Context, maxDays int, now time.Time) ([]*Record, error) {
	cutoff := now.Add(-time.Duration(maxDays) * 24 * time.Hour)
	candidates, err := s.repo.List(ctx, ListFilter{
		Statuses:     []Status{StatusActive, StatusTransferred},
		IssuedBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue custody: %w", err)
	}

	overdue := make([]*Record, 0, len(candidates))
	for _, r := range candidates {
		if r.IsOverdue(maxDays, now) {
			overdue = append(overdue, r)
		}
	}
	return overdue, nil
}

// NotifyOverdue emits a custody.overdue notification per overdue record and
// returns how many were found.
func (s *Service) NotifyOverdue(ctx context.Context, maxDays int, now time.Time) (int, error) {
	overdue, err := s.ListOverdue(ctx, maxDays, now)
	if err != nil {
		return 0, err
	}

	for _, r := range overdue {
		s.notifier.Notify(ctx, notify.NewEvent(ctx, notify.EventCustodyOverdue, DocumentType, r.ID, map[string]any{
			"number":    r.Number,
			"workerId":  r.WorkerID.String(),
			"itemId":    r.ItemID.String(),
			"remaining": r.Remaining().String(),
			"daysHeld":  r.DaysHeld(now),
			"maxDays":   maxDays,
		}))
	}
	return len(overdue), nil
}

func (s *Service) update(ctx context.Context, recordID id.ID, fn func(ctx context.Context, rec *Record) error) (*Record, error) {
	var result *Record
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		rec, err := s.repo.GetForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if err := fn(ctx, rec); err != nil {
			return err
		}
		rec.Touch(appctx.GetUserID(ctx))
		if err := s.repo.Update(ctx, rec); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) source(rec *Record) ledger.Source {
	return ledger.Source{DocumentType: DocumentType, DocumentID: rec.ID}
}
