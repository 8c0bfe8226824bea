// Package boq provides the Bill of Quantities document and its issuance engine.
//
// A BOQ is a project's itemized material requirement. It is edited in Draft,
// submitted, approved and then issued against the ledger. When stock only
// covers part of the request, the engine issues what it can and opens a
// child "remaining BOQ" for the shortfall.
package boq

import (
	"context"
	"time"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/entity"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
)

// Status of a BOQ.
type Status string

const (
	StatusDraft           Status = "Draft"
	StatusPending         Status = "Pending"
	StatusApproved        Status = "Approved"
	StatusPartiallyIssued Status = "PartiallyIssued"
	StatusFullyIssued     Status = "FullyIssued"
	StatusCancelled       Status = "Cancelled"
)

// IsTerminal reports FullyIssued or Cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusFullyIssued || s == StatusCancelled
}

// BOQ is a Bill of Quantities.
type BOQ struct {
	entity.Document

	ProjectName string `db:"project_name" json:"projectName"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	Status      Status `db:"status" json:"status"`

	// Split chain. A remaining BOQ points at the document it was split from.
	OriginalBOQID      *id.ID `db:"original_boq_id" json:"originalBoqId,omitempty"`
	IsRemainingBOQ     bool   `db:"is_remaining_boq" json:"isRemainingBoq"`
	PartialIssueReason string `db:"partial_issue_reason" json:"partialIssueReason,omitempty"`
	RemainingBOQID     *id.ID `db:"remaining_boq_id" json:"remainingBoqId,omitempty"`

	SubmittedAt *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`
	ApprovedBy  string     `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`

	ReserveApproved   bool       `db:"reserve_approved" json:"reserveApproved"`
	ReserveApprovedBy string     `db:"reserve_approved_by" json:"reserveApprovedBy,omitempty"`
	ReserveApprovedAt *time.Time `db:"reserve_approved_at" json:"reserveApprovedAt,omitempty"`

	IssuedAt *time.Time `db:"issued_at" json:"issuedAt,omitempty"`

	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CancellationReason string     `db:"cancellation_reason" json:"cancellationReason,omitempty"`

	// Table part
	Lines []Line `db:"-" json:"lines"`
}

// Line is one item of a BOQ.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID id.ID `db:"item_id" json:"itemId"`

	RequestedQuantity types.Quantity `db:"requested_quantity" json:"requestedQuantity"`
	IssuedQuantity    types.Quantity `db:"issued_quantity" json:"issuedQuantity"`

	// CommanderReserveQuantity is how much of the line may be drawn from the
	// reserve once the BOQ's reserve approval is granted. Zero means none.
	CommanderReserveQuantity types.Quantity `db:"commander_reserve_quantity" json:"commanderReserveQuantity"`
	ReserveIssuedQuantity    types.Quantity `db:"reserve_issued_quantity" json:"reserveIssuedQuantity"`

	AvailableStockSnapshot types.Quantity `db:"available_stock_snapshot" json:"availableStockSnapshot"`

	UnitPrice types.Money `db:"unit_price" json:"unitPrice"`
	Comment   string      `db:"comment" json:"comment,omitempty"`
}

// Remaining is requested minus issued.
func (l *Line) Remaining() types.Quantity {
	return l.RequestedQuantity - l.IssuedQuantity
}

// Shortfall is max(0, remaining − available snapshot).
func (l *Line) Shortfall() types.Quantity {
	return types.MaxQuantity(0, l.Remaining()-l.AvailableStockSnapshot)
}

// RequiresReserve reports whether the line asks for reserve stock.
func (l *Line) RequiresReserve() bool {
	return l.CommanderReserveQuantity.IsPositive()
}

// ReserveAllowance is the reserve quantity the line may still draw.
func (l *Line) ReserveAllowance() types.Quantity {
	return types.MaxQuantity(0, l.CommanderReserveQuantity-l.ReserveIssuedQuantity)
}

// Amount is requested quantity × unit price.
func (l *Line) Amount() types.Money {
	return types.Amount(l.RequestedQuantity, l.UnitPrice)
}

// LineInput carries editable line fields.
type LineInput struct {
	ItemID                   id.ID          `json:"itemId"`
	RequestedQuantity        types.Quantity `json:"requestedQuantity"`
	CommanderReserveQuantity types.Quantity `json:"commanderReserveQuantity"`
	UnitPrice                types.Money    `json:"unitPrice"`
	Comment                  string         `json:"comment,omitempty"`
}

func (in LineInput) validate() error {
	if id.IsNil(in.ItemID) {
		return apperror.NewValidation("item is required").WithDetail("field", "itemId")
	}
	if !in.RequestedQuantity.IsPositive() {
		return apperror.NewValidation("requested quantity must be positive").
			WithDetail("field", "requestedQuantity")
	}
	if in.CommanderReserveQuantity.IsNegative() || in.CommanderReserveQuantity > in.RequestedQuantity {
		return apperror.NewValidation("commander reserve quantity must be within [0, requested]").
			WithDetail("field", "commanderReserveQuantity")
	}
	if in.UnitPrice.IsNegative() {
		return apperror.NewValidation("unit price must not be negative").WithDetail("field", "unitPrice")
	}
	return nil
}

// New creates a Draft BOQ.
func New(actor, projectName string, warehouseID id.ID) *BOQ {
	return &BOQ{
		Document:    entity.NewDocument(actor),
		ProjectName: projectName,
		WarehouseID: warehouseID,
		Status:      StatusDraft,
		Lines:       make([]Line, 0),
	}
}

// Validate implements entity.Validatable.
func (b *BOQ) Validate(ctx context.Context) error {
	if err := b.Document.Validate(ctx); err != nil {
		return err
	}
	if id.IsNil(b.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	seen := make(map[id.ID]struct{}, len(b.Lines))
	for i := range b.Lines {
		line := &b.Lines[i]
		if _, dup := seen[line.ItemID]; dup {
			return apperror.NewValidation("item appears on more than one line").
				WithDetail("lineNo", line.LineNo)
		}
		seen[line.ItemID] = struct{}{}
		if line.IssuedQuantity.IsNegative() || line.IssuedQuantity > line.RequestedQuantity {
			return apperror.NewValidation("issued quantity outside [0, requested]").
				WithDetail("lineNo", line.LineNo)
		}
	}
	return nil
}

// Line returns the line for itemID, or nil.
func (b *BOQ) Line(itemID id.ID) *Line {
	for i := range b.Lines {
		if b.Lines[i].ItemID == itemID {
			return &b.Lines[i]
		}
	}
	return nil
}

// TotalAmount sums line amounts.
func (b *BOQ) TotalAmount() types.Money {
	total := types.Money{}
	for i := range b.Lines {
		total = total.Add(b.Lines[i].Amount())
	}
	return total
}

// RequiresReserveApproval reports whether any line asks for reserve stock.
func (b *BOQ) RequiresReserveApproval() bool {
	for i := range b.Lines {
		if b.Lines[i].RequiresReserve() {
			return true
		}
	}
	return false
}

// IsFullyIssued reports whether every line's remaining is zero.
func (b *BOQ) IsFullyIssued() bool {
	for i := range b.Lines {
		if !b.Lines[i].Remaining().IsZero() {
			return false
		}
	}
	return true
}

// --- Draft editing ---

// AddLine appends a line. Only Draft BOQs are editable and each item appears once.
func (b *BOQ) AddLine(in LineInput) (*Line, error) {
	if err := b.requireStatus("add_line", StatusDraft); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if b.Line(in.ItemID) != nil {
		return nil, apperror.NewValidation("item already on this BOQ").
			WithDetail("itemId", in.ItemID.String())
	}

	b.Lines = append(b.Lines, Line{
		LineID:                   id.New(),
		LineNo:                   len(b.Lines) + 1,
		ItemID:                   in.ItemID,
		RequestedQuantity:        in.RequestedQuantity,
		CommanderReserveQuantity: in.CommanderReserveQuantity,
		UnitPrice:                in.UnitPrice,
		Comment:                  in.Comment,
	})
	return &b.Lines[len(b.Lines)-1], nil
}

// UpdateLine replaces the editable fields of a Draft line.
func (b *BOQ) UpdateLine(lineID id.ID, in LineInput) (*Line, error) {
	if err := b.requireStatus("update_line", StatusDraft); err != nil {
		return nil, err
	}
	idx := b.lineIndex(lineID)
	if idx < 0 {
		return nil, apperror.NewNotFound("boq line", lineID.String())
	}
	if id.IsNil(in.ItemID) {
		in.ItemID = b.Lines[idx].ItemID
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if other := b.Line(in.ItemID); other != nil && other.LineID != lineID {
		return nil, apperror.NewValidation("item already on this BOQ").
			WithDetail("itemId", in.ItemID.String())
	}

	line := &b.Lines[idx]
	line.ItemID = in.ItemID
	line.RequestedQuantity = in.RequestedQuantity
	line.CommanderReserveQuantity = in.CommanderReserveQuantity
	line.UnitPrice = in.UnitPrice
	line.Comment = in.Comment
	return line, nil
}

// RemoveLine deletes a Draft line and renumbers the rest.
func (b *BOQ) RemoveLine(lineID id.ID) error {
	if err := b.requireStatus("remove_line", StatusDraft); err != nil {
		return err
	}
	idx := b.lineIndex(lineID)
	if idx < 0 {
		return apperror.NewNotFound("boq line", lineID.String())
	}
	b.Lines = append(b.Lines[:idx], b.Lines[idx+1:]...)
	for i := range b.Lines {
		b.Lines[i].LineNo = i + 1
	}
	return nil
}

func (b *BOQ) lineIndex(lineID id.ID) int {
	for i := range b.Lines {
		if b.Lines[i].LineID == lineID {
			return i
		}
	}
	return -1
}

// --- Workflow transitions ---

// Submit moves Draft to Pending. A BOQ without lines cannot be submitted.
func (b *BOQ) Submit(at time.Time) error {
	if err := b.requireStatus("submit", StatusDraft); err != nil {
		return err
	}
	if len(b.Lines) == 0 {
		return apperror.NewValidation("cannot submit a BOQ without lines").WithDetail("field", "lines")
	}
	b.Status = StatusPending
	b.SubmittedAt = &at
	return nil
}

// Approve moves Pending to Approved. Reserve approval is a separate step.
func (b *BOQ) Approve(actor string, at time.Time) error {
	if err := b.requireStatus("approve", StatusPending); err != nil {
		return err
	}
	b.Status = StatusApproved
	b.ApprovedBy = actor
	b.ApprovedAt = &at
	return nil
}

// ApproveReserve records the commander's reserve authorization.
func (b *BOQ) ApproveReserve(actor string, at time.Time) error {
	if err := b.requireStatus("approve_reserve", StatusPending, StatusApproved); err != nil {
		return err
	}
	if !b.RequiresReserveApproval() {
		return apperror.NewValidation("no line requests commander reserve stock")
	}
	if b.ReserveApproved {
		return apperror.NewInvalidStateTransition("boq", "approve_reserve", "reserve already approved").
			WithDetail("boq_id", b.ID.String())
	}
	b.ReserveApproved = true
	b.ReserveApprovedBy = actor
	b.ReserveApprovedAt = &at
	return nil
}

// Reject cancels a Pending BOQ with a reason.
func (b *BOQ) Reject(reason string, at time.Time) error {
	if err := b.requireStatus("reject", StatusPending); err != nil {
		return err
	}
	if reason == "" {
		return apperror.NewValidation("rejection reason is required").WithDetail("field", "reason")
	}
	b.Status = StatusCancelled
	b.CancelledAt = &at
	b.CancellationReason = reason
	return nil
}

// Cancel is allowed until the BOQ is fully issued. It never touches the ledger;
// quantities already issued from a PartiallyIssued BOQ stay issued.
func (b *BOQ) Cancel(reason string, at time.Time) error {
	if err := b.requireStatus("cancel", StatusDraft, StatusPending, StatusApproved, StatusPartiallyIssued); err != nil {
		return err
	}
	b.Status = StatusCancelled
	b.CancelledAt = &at
	b.CancellationReason = reason
	return nil
}

// completeRemainder marks a PartiallyIssued BOQ FullyIssued once the remaining
// BOQ split off it has been fully issued. It reports whether b changed.
func (b *BOQ) completeRemainder(remaining *BOQ) bool {
	if b.Status != StatusPartiallyIssued || remaining.Status != StatusFullyIssued {
		return false
	}
	if b.RemainingBOQID == nil || *b.RemainingBOQID != remaining.ID {
		return false
	}
	b.Status = StatusFullyIssued
	return true
}

// checkIssuable verifies the BOQ may be issued now.
func (b *BOQ) checkIssuable() error {
	if err := b.requireStatus("issue", StatusApproved); err != nil {
		return err
	}
	if b.RequiresReserveApproval() && !b.ReserveApproved {
		return apperror.NewInvalidStateTransition("boq", "issue", string(b.Status)).
			WithDetail("boq_id", b.ID.String()).
			WithDetail("reason", "commander reserve approval required")
	}
	return nil
}

// remainder builds the child BOQ carrying every line with remaining > 0.
// Reserve requests are reset so the remainder must be re-authorized.
func (b *BOQ) remainder(actor, reason string) *BOQ {
	child := New(actor, b.ProjectName, b.WarehouseID)
	child.Status = StatusPending
	child.SubmittedAt = &child.CreatedAt
	child.OriginalBOQID = id.Ptr(b.ID)
	child.IsRemainingBOQ = true
	child.PartialIssueReason = reason
	child.Comment = b.Comment

	for i := range b.Lines {
		parent := &b.Lines[i]
		remaining := parent.Remaining()
		if !remaining.IsPositive() {
			continue
		}
		child.Lines = append(child.Lines, Line{
			LineID:            id.New(),
			LineNo:            len(child.Lines) + 1,
			ItemID:            parent.ItemID,
			RequestedQuantity: remaining,
			UnitPrice:         parent.UnitPrice,
			Comment:           parent.Comment,
		})
	}
	return child
}

func (b *BOQ) requireStatus(op string, allowed ...Status) error {
	for _, s := range allowed {
		if b.Status == s {
			return nil
		}
	}
	return apperror.NewInvalidStateTransition("boq", op, string(b.Status)).
		WithDetail("boq_id", b.ID.String())
}

var _ entity.Validatable = (*BOQ)(nil)
