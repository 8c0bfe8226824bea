// Package custody tracks stock handed to individual workers (operational custody)
// through return, consumption and transfer.
package custody

import (
	"time"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/entity"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
)

// Status of a custody record.
type Status string

const (
	StatusActive            Status = "Active"
	StatusPartiallyReturned Status = "PartiallyReturned"
	StatusFullyReturned     Status = "FullyReturned"
	StatusConsumed          Status = "Consumed"
	StatusTransferred       Status = "Transferred"
)

// IsTerminal reports FullyReturned or Consumed.
func (s Status) IsTerminal() bool {
	return s == StatusFullyReturned || s == StatusConsumed
}

// IsOpen reports statuses that still hold quantity.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPartiallyReturned || s == StatusTransferred
}

// OpenStatuses lists statuses that still hold quantity.
var OpenStatuses = []Status{StatusActive, StatusPartiallyReturned, StatusTransferred}

// Record is one issuance of an item to a worker. Records are never deleted.
//
// QuantityIssued = QuantityReturned + QuantityConsumed + Remaining()
type Record struct {
	entity.AuditableRecord

	Number string `db:"number" json:"number"`

	WorkerID     id.ID `db:"worker_id" json:"workerId"`
	DepartmentID id.ID `db:"department_id" json:"departmentId"`
	WarehouseID  id.ID `db:"warehouse_id" json:"warehouseId"`
	ItemID       id.ID `db:"item_id" json:"itemId"`

	QuantityIssued   types.Quantity  `db:"quantity_issued" json:"quantityIssued"`
	QuantityReturned types.Quantity  `db:"quantity_returned" json:"quantityReturned"`
	QuantityConsumed types.Quantity  `db:"quantity_consumed" json:"quantityConsumed"`
	CustomLimit      *types.Quantity `db:"custom_limit" json:"customLimit,omitempty"`

	Status   Status    `db:"status" json:"status"`
	IssuedAt time.Time `db:"issued_at" json:"issuedAt"`

	// Previous holder, kept on transfer.
	PreviousWorkerID     *id.ID     `db:"previous_worker_id" json:"previousWorkerId,omitempty"`
	PreviousDepartmentID *id.ID     `db:"previous_department_id" json:"previousDepartmentId,omitempty"`
	TransferredAt        *time.Time `db:"transferred_at" json:"transferredAt,omitempty"`

	// Last receiver of returned stock.
	ReceivedBy     *id.ID     `db:"received_by" json:"receivedBy,omitempty"`
	LastReturnedAt *time.Time `db:"last_returned_at" json:"lastReturnedAt,omitempty"`
}

// Remaining is the quantity still held by the worker.
func (r *Record) Remaining() types.Quantity {
	return r.QuantityIssued - r.QuantityReturned - r.QuantityConsumed
}

// IsOverdue reports whether an active record has been held more than maxDays whole days.
// Transferred records still count as active.
func (r *Record) IsOverdue(maxDays int, now time.Time) bool {
	if r.Status != StatusActive && r.Status != StatusTransferred {
		return false
	}
	return daysBetween(r.IssuedAt, now) > maxDays
}

// DaysHeld returns whole days since issue.
func (r *Record) DaysHeld(now time.Time) int {
	return daysBetween(r.IssuedAt, now)
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

// applyReturn validates and books a return. The record is unchanged on error.
func (r *Record) applyReturn(qty types.Quantity, receiverID id.ID, at time.Time) error {
	if err := r.checkDrawdown("return", qty); err != nil {
		return err
	}
	r.QuantityReturned += qty
	r.ReceivedBy = id.Ptr(receiverID)
	r.LastReturnedAt = &at
	if r.Remaining().IsZero() {
		r.Status = StatusFullyReturned
	} else {
		r.Status = StatusPartiallyReturned
	}
	return nil
}

// applyConsume validates and books consumption. The record is unchanged on error.
func (r *Record) applyConsume(qty types.Quantity) error {
	if err := r.checkDrawdown("consume", qty); err != nil {
		return err
	}
	r.QuantityConsumed += qty
	if r.Remaining().IsZero() {
		r.Status = StatusConsumed
	} else {
		r.Status = StatusPartiallyReturned
	}
	return nil
}

// applyTransfer reassigns the owner. Only Active records can be transferred.
func (r *Record) applyTransfer(workerID, departmentID id.ID, at time.Time) error {
	if r.Status != StatusActive {
		return apperror.NewInvalidStateTransition("custody", "transfer", string(r.Status)).
			WithDetail("custody_id", r.ID.String())
	}
	if workerID == r.WorkerID {
		return apperror.NewValidation("custody is already held by this worker")
	}
	r.PreviousWorkerID = id.Ptr(r.WorkerID)
	r.PreviousDepartmentID = id.Ptr(r.DepartmentID)
	r.WorkerID = workerID
	r.DepartmentID = departmentID
	r.TransferredAt = &at
	r.Status = StatusTransferred
	return nil
}

func (r *Record) checkDrawdown(op string, qty types.Quantity) error {
	if !r.Status.IsOpen() {
		return apperror.NewInvalidStateTransition("custody", op, string(r.Status)).
			WithDetail("custody_id", r.ID.String())
	}
	if !qty.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty.String())
	}
	if remaining := r.Remaining(); qty > remaining {
		return apperror.NewValidation("quantity exceeds remaining custody").
			WithDetail("requested", qty.String()).
			WithDetail("remaining", remaining.String())
	}
	return nil
}

// Worker is a custody holder from the personnel directory.
type Worker struct {
	ID           id.ID  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	DepartmentID id.ID  `db:"department_id" json:"departmentId"`
	Active       bool   `db:"active" json:"active"`
}
