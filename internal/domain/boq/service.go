package boq

import (
	"context"
	"fmt"
	"time"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/numerator"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/notify"
	"quartermaster/pkg/logger"
)

// DocumentType is the recorder type written to ledger movements.
const DocumentType = "boq"

// NumberPrefix prefixes BOQ document numbers.
const NumberPrefix = "BOQ"

// StockLedger is the part of the ledger the issuance engine uses.
type StockLedger interface {
	GetForUpdate(ctx context.Context, key ledger.Key) (*ledger.Entry, error)
	AdjustGeneral(ctx context.Context, key ledger.Key, delta types.Quantity, src ledger.Source) (*ledger.Entry, error)
	AdjustReserve(ctx context.Context, key ledger.Key, delta types.Quantity, src ledger.Source) (*ledger.Entry, error)
}

// Service drives the BOQ workflow and issuance.
type Service struct {
	repo       Repository
	ledger     StockLedger
	authorizer security.ReserveAuthorizer
	numerator  numerator.Generator
	txManager  tx.Manager
	notifier   notify.Notifier
	now        func() time.Time
}

// NewService creates a BOQ service.
func NewService(
	repo Repository,
	stock StockLedger,
	authorizer security.ReserveAuthorizer,
	numerator numerator.Generator,
	txManager tx.Manager,
	notifier notify.Notifier,
) *Service {
	return &Service{
		repo:       repo,
		ledger:     stock,
		authorizer: authorizer,
		numerator:  numerator,
		txManager:  txManager,
		notifier:   notify.OrNop(notifier),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest describes a new Draft BOQ.
type CreateRequest struct {
	ProjectName string
	WarehouseID id.ID
	Date        time.Time
	Comment     string
	Lines       []LineInput
}

// Create stores a new Draft BOQ with a generated number.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*BOQ, error) {
	b := New(appctx.GetUserID(ctx), req.ProjectName, req.WarehouseID)
	if !req.Date.IsZero() {
		b.Date = req.Date
	}
	b.Comment = req.Comment
	for _, in := range req.Lines {
		if _, err := b.AddLine(in); err != nil {
			return nil, err
		}
	}
	if err := b.Validate(ctx); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.insert(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "boq created", "boq_id", b.ID, "number", b.Number, "lines", len(b.Lines))
	return b, nil
}

// Get returns a BOQ with its lines.
func (s *Service) Get(ctx context.Context, boqID id.ID) (*BOQ, error) {
	return s.repo.GetByID(ctx, boqID)
}

// List returns BOQs matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*BOQ, error) {
	return s.repo.List(ctx, filter)
}

// ListRemaining returns the remaining BOQs split off boqID.
func (s *Service) ListRemaining(ctx context.Context, boqID id.ID) ([]*BOQ, error) {
	return s.repo.List(ctx, ListFilter{OriginalBOQID: &boqID})
}

// AddLine appends a line to a Draft BOQ.
func (s *Service) AddLine(ctx context.Context, boqID id.ID, in LineInput) (*BOQ, error) {
	return s.update(ctx, boqID, func(_ context.Context, b *BOQ) error {
		_, err := b.AddLine(in)
		return err
	})
}

// UpdateLine edits a line of a Draft BOQ.
func (s *Service) UpdateLine(ctx context.Context, boqID, lineID id.ID, in LineInput) (*BOQ, error) {
	return s.update(ctx, boqID, func(_ context.Context, b *BOQ) error {
		_, err := b.UpdateLine(lineID, in)
		return err
	})
}

// RemoveLine deletes a line of a Draft BOQ.
func (s *Service) RemoveLine(ctx context.Context, boqID, lineID id.ID) (*BOQ, error) {
	return s.update(ctx, boqID, func(_ context.Context, b *BOQ) error {
		return b.RemoveLine(lineID)
	})
}

// Submit moves a Draft BOQ to Pending.
func (s *Service) Submit(ctx context.Context, boqID id.ID) (*BOQ, error) {
	b, err := s.update(ctx, boqID, func(_ context.Context, b *BOQ) error {
		return b.Submit(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.EventBOQSubmitted, b, nil)
	return b, nil
}

// Approve moves a Pending BOQ to Approved.
func (s *Service) Approve(ctx context.Context, boqID id.ID) (*BOQ, error) {
	b, err := s.update(ctx, boqID, func(ctx context.Context, b *BOQ) error {
		return b.Approve(appctx.GetUserID(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.EventBOQApproved, b, map[string]any{
		"reserveApprovalRequired": b.RequiresReserveApproval() && !b.ReserveApproved,
	})
	return b, nil
}

// ApproveCommanderReserve grants the reserve authorization a BOQ with reserve
// lines needs before issuance. The caller must pass the reserve access policy.
func (s *Service) ApproveCommanderReserve(ctx context.Context, boqID id.ID) (*BOQ, error) {
	if err := s.authorizer.AuthorizeReserve(ctx, security.ActionApproveBOQReserve); err != nil {
		return nil, err
	}
	b, err := s.update(ctx, boqID, func(ctx context.Context, b *BOQ) error {
		return b.ApproveReserve(appctx.GetUserID(ctx), s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.EventBOQReserveApproved, b, nil)
	return b, nil
}

// Reject cancels a Pending BOQ with a reason.
func (s *Service) Reject(ctx context.Context, boqID id.ID, reason string) (*BOQ, error) {
	b, err := s.update(ctx, boqID, func(_ context.Context, b *BOQ) error {
		return b.Reject(reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, notify.EventBOQRejected, b, map[string]any{"reason": reason})
	return b, nil
}

// Cancel cancels a BOQ that is not fully issued, together with the open
// remaining BOQs split off it. The ledger is not touched.
func (s *Service) Cancel(ctx context.Context, boqID id.ID, reason string) (*BOQ, error) {
	var cancelled []*BOQ
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		cancelled = cancelled[:0]
		actor := appctx.GetUserID(ctx)

		b, err := s.repo.GetForUpdate(ctx, boqID)
		if err != nil {
			return err
		}
		for {
			if err := b.Cancel(reason, s.now()); err != nil {
				return err
			}
			b.Touch(actor)
			if err := s.repo.Update(ctx, b); err != nil {
				return err
			}
			cancelled = append(cancelled, b)

			if b.RemainingBOQID == nil {
				return nil
			}
			next, err := s.repo.GetForUpdate(ctx, *b.RemainingBOQID)
			if err != nil {
				return err
			}
			if next.Status.IsTerminal() {
				return nil
			}
			b = next
		}
	})
	if err != nil {
		return nil, err
	}

	for _, b := range cancelled {
		s.emit(ctx, notify.EventBOQCancelled, b, map[string]any{"reason": reason})
	}
	if len(cancelled) > 1 {
		logger.Info(ctx, "boq cancelled with remaining chain", "boq_id", boqID, "cancelled", len(cancelled))
	}
	return cancelled[0], nil
}

// LineEvaluation is the issuance outlook of one line.
type LineEvaluation struct {
	LineID           id.ID          `json:"lineId"`
	ItemID           id.ID          `json:"itemId"`
	Requested        types.Quantity `json:"requested"`
	Issued           types.Quantity `json:"issued"`
	Remaining        types.Quantity `json:"remaining"`
	AvailableGeneral types.Quantity `json:"availableGeneral"`
	ReserveAllowance types.Quantity `json:"reserveAllowance"`
	Available        types.Quantity `json:"available"`
	Shortfall        types.Quantity `json:"shortfall"`
	SuggestedIssue   types.Quantity `json:"suggestedIssue"`
}

// Evaluate refreshes each line's available stock snapshot and returns what
// could be issued right now. Reserve stock counts only for lines the
// commander has authorized.
func (s *Service) Evaluate(ctx context.Context, boqID id.ID) ([]LineEvaluation, error) {
	var result []LineEvaluation
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, boqID)
		if err != nil {
			return err
		}

		result = make([]LineEvaluation, 0, len(b.Lines))
		for i := range b.Lines {
			line := &b.Lines[i]
			general, reserve, err := s.availableFor(ctx, b, line)
			if err != nil {
				return err
			}
			available := general + reserve
			if !b.Status.IsTerminal() {
				line.AvailableStockSnapshot = available
			}
			result = append(result, LineEvaluation{
				LineID:           line.LineID,
				ItemID:           line.ItemID,
				Requested:        line.RequestedQuantity,
				Issued:           line.IssuedQuantity,
				Remaining:        line.Remaining(),
				AvailableGeneral: general,
				ReserveAllowance: reserve,
				Available:        available,
				Shortfall:        types.MaxQuantity(0, line.Remaining()-available),
				SuggestedIssue:   types.MinQuantity(line.Remaining(), available),
			})
		}

		if b.Status.IsTerminal() {
			return nil
		}
		b.Touch(appctx.GetUserID(ctx))
		return s.repo.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LineRequest asks to issue Quantity of ItemID.
type LineRequest struct {
	ItemID   id.ID          `json:"itemId"`
	Quantity types.Quantity `json:"quantity"`
}

// IssueResult is the outcome of Issue.
type IssueResult struct {
	BOQ       *BOQ `json:"boq"`
	Remaining *BOQ `json:"remaining,omitempty"`
	// Completed lists ancestors that became FullyIssued with this call.
	Completed []*BOQ `json:"completed,omitempty"`
}

// Issue deducts exactly the requested quantities from the ledger.
//
// If any line asks for more than is available the whole call fails with
// InsufficientAvailability and nothing is deducted. General stock is used
// first; reserve stock only for lines within their authorized reserve quantity.
// When some line still has a remainder afterwards the BOQ becomes
// PartiallyIssued and exactly one Pending child BOQ is created for the
// remainder, with reason recorded on it. When a remaining BOQ becomes
// FullyIssued, the PartiallyIssued BOQs it descends from do too.
func (s *Service) Issue(ctx context.Context, boqID id.ID, requests []LineRequest, reason string) (*IssueResult, error) {
	result := &IssueResult{}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, boqID)
		if err != nil {
			return err
		}
		if err := b.checkIssuable(); err != nil {
			return err
		}
		if err := validateRequests(b, requests); err != nil {
			return err
		}

		src := ledger.Source{DocumentType: DocumentType, DocumentID: b.ID}
		key := func(itemID id.ID) ledger.Key {
			return ledger.Key{WarehouseID: b.WarehouseID, ItemID: itemID}
		}

		// Validate every line against locked balances before deducting anything.
		type draw struct {
			line                 *Line
			general, reserve     types.Quantity
			availableAfterIssued types.Quantity
		}
		draws := make([]draw, 0, len(requests))
		for _, req := range requests {
			if !req.Quantity.IsPositive() {
				continue
			}
			line := b.Line(req.ItemID)
			general, reserve, err := s.availableFor(ctx, b, line)
			if err != nil {
				return err
			}
			if available := general + reserve; req.Quantity > available {
				return apperror.NewInsufficientAvailability(string(ledger.PoolGeneral), req.Quantity, available).
					WithDetail("item_id", req.ItemID.String()).
					WithDetail("boq_id", b.ID.String())
			}
			fromGeneral := types.MinQuantity(req.Quantity, general)
			draws = append(draws, draw{
				line:                 line,
				general:              fromGeneral,
				reserve:              req.Quantity - fromGeneral,
				availableAfterIssued: general + reserve - req.Quantity,
			})
		}

		for _, d := range draws {
			if d.general.IsPositive() {
				if _, err := s.ledger.AdjustGeneral(ctx, key(d.line.ItemID), d.general.Neg(), src); err != nil {
					return err
				}
			}
			if d.reserve.IsPositive() {
				if _, err := s.ledger.AdjustReserve(ctx, key(d.line.ItemID), d.reserve.Neg(), src); err != nil {
					return err
				}
			}
			d.line.IssuedQuantity += d.general + d.reserve
			d.line.ReserveIssuedQuantity += d.reserve
			d.line.AvailableStockSnapshot = d.availableAfterIssued
		}

		now := s.now()
		actor := appctx.GetUserID(ctx)
		b.IssuedAt = &now

		if b.IsFullyIssued() {
			b.Status = StatusFullyIssued
		} else {
			b.Status = StatusPartiallyIssued
			child := b.remainder(actor, reason)
			if err := s.insert(ctx, child); err != nil {
				return err
			}
			b.RemainingBOQID = id.Ptr(child.ID)
			result.Remaining = child
		}

		b.Touch(actor)
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		result.BOQ = b

		if b.Status == StatusFullyIssued {
			completed, err := s.completeAncestors(ctx, b, actor)
			if err != nil {
				return err
			}
			result.Completed = completed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := result.BOQ
	if result.Remaining != nil {
		logger.Info(ctx, "boq partially issued",
			"boq_id", b.ID,
			"number", b.Number,
			"remaining_boq_id", result.Remaining.ID,
			"remaining_number", result.Remaining.Number,
		)
		s.emit(ctx, notify.EventBOQPartiallyIssued, b, map[string]any{
			"remainingBoqId":     result.Remaining.ID.String(),
			"remainingNumber":    result.Remaining.Number,
			"partialIssueReason": reason,
		})
	} else {
		logger.Info(ctx, "boq fully issued", "boq_id", b.ID, "number", b.Number)
		s.emit(ctx, notify.EventBOQFullyIssued, b, nil)
	}
	for _, ancestor := range result.Completed {
		logger.Info(ctx, "boq completed by remaining boq",
			"boq_id", ancestor.ID,
			"number", ancestor.Number,
			"remaining_boq_id", b.ID,
		)
		s.emit(ctx, notify.EventBOQFullyIssued, ancestor, map[string]any{
			"completedByBoqId": b.ID.String(),
		})
	}
	return result, nil
}

// completeAncestors walks the originalBOQId chain up from a fully issued
// remaining BOQ and marks each PartiallyIssued parent FullyIssued.
func (s *Service) completeAncestors(ctx context.Context, b *BOQ, actor string) ([]*BOQ, error) {
	var completed []*BOQ
	for b.OriginalBOQID != nil {
		parent, err := s.repo.GetForUpdate(ctx, *b.OriginalBOQID)
		if err != nil {
			return nil, fmt.Errorf("load parent boq: %w", err)
		}
		if !parent.completeRemainder(b) {
			break
		}
		parent.Touch(actor)
		if err := s.repo.Update(ctx, parent); err != nil {
			return nil, err
		}
		completed = append(completed, parent)
		b = parent
	}
	return completed, nil
}

func validateRequests(b *BOQ, requests []LineRequest) error {
	if len(requests) == 0 {
		return apperror.NewValidation("at least one line request is required")
	}

	seen := make(map[id.ID]struct{}, len(requests))
	positive := false
	for _, req := range requests {
		line := b.Line(req.ItemID)
		if line == nil {
			return apperror.NewValidation("item is not on this BOQ").
				WithDetail("itemId", req.ItemID.String())
		}
		if _, dup := seen[req.ItemID]; dup {
			return apperror.NewValidation("item requested more than once").
				WithDetail("itemId", req.ItemID.String())
		}
		seen[req.ItemID] = struct{}{}

		if req.Quantity.IsNegative() {
			return apperror.NewValidation("issue quantity must not be negative").
				WithDetail("itemId", req.ItemID.String())
		}
		if req.Quantity > line.Remaining() {
			return apperror.NewValidation("issue quantity exceeds line remaining").
				WithDetail("itemId", req.ItemID.String()).
				WithDetail("requested", req.Quantity.String()).
				WithDetail("remaining", line.Remaining().String())
		}
		if req.Quantity.IsPositive() {
			positive = true
		}
	}
	if !positive {
		return apperror.NewValidation("at least one issue quantity must be positive")
	}
	return nil
}

// availableFor returns the general stock and the reserve allowance usable by line.
// A missing ledger entry counts as zero stock.
func (s *Service) availableFor(ctx context.Context, b *BOQ, line *Line) (general, reserve types.Quantity, err error) {
	entry, err := s.ledger.GetForUpdate(ctx, ledger.Key{WarehouseID: b.WarehouseID, ItemID: line.ItemID})
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	general = entry.AvailableGeneral()
	if line.RequiresReserve() && b.ReserveApproved {
		reserve = types.MinQuantity(entry.AvailableReserve(), line.ReserveAllowance())
	}
	return general, reserve, nil
}

func (s *Service) insert(ctx context.Context, b *BOQ) error {
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig(NumberPrefix), nil, b.Date)
	if err != nil {
		return fmt.Errorf("generate number: %w", err)
	}
	b.Number = number
	if err := s.repo.Create(ctx, b); err != nil {
		return fmt.Errorf("create boq: %w", err)
	}
	return nil
}

func (s *Service) update(ctx context.Context, boqID id.ID, fn func(ctx context.Context, b *BOQ) error) (*BOQ, error) {
	var result *BOQ
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, boqID)
		if err != nil {
			return err
		}
		if err := fn(ctx, b); err != nil {
			return err
		}
		if err := b.Validate(ctx); err != nil {
			return err
		}
		b.Touch(appctx.GetUserID(ctx))
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) emit(ctx context.Context, eventType string, b *BOQ, extra map[string]any) {
	payload := map[string]any{
		"number":      b.Number,
		"status":      string(b.Status),
		"warehouseId": b.WarehouseID.String(),
		"projectName": b.ProjectName,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Notify(ctx, notify.NewEvent(ctx, eventType, DocumentType, b.ID, payload))
}
