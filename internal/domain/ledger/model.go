// Package ledger provides the dual-pool quantity ledger: per (warehouse, item)
// general stock and Commander's Reserve balances with their allocation counters.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/entity"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
)

// Pool identifies one of the two segregated quantity pools.
type Pool string

const (
	PoolGeneral Pool = "general"
	PoolReserve Pool = "reserve"
)

// Other returns the opposite pool.
func (p Pool) Other() Pool {
	if p == PoolReserve {
		return PoolGeneral
	}
	return PoolReserve
}

// Validate accepts general and reserve.
func (p Pool) Validate() error {
	if p != PoolGeneral && p != PoolReserve {
		return apperror.NewValidation("unknown pool").WithDetail("pool", string(p))
	}
	return nil
}

// Key addresses a ledger entry.
type Key struct {
	WarehouseID id.ID `json:"warehouseId"`
	ItemID      id.ID `json:"itemId"`
}

func (k Key) String() string {
	return k.WarehouseID.String() + "/" + k.ItemID.String()
}

// Less orders keys for deterministic lock acquisition.
func (k Key) Less(other Key) bool {
	return k.String() < other.String()
}

// Validate checks both ids are present.
func (k Key) Validate() error {
	if id.IsNil(k.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if id.IsNil(k.ItemID) {
		return apperror.NewValidation("item is required").WithDetail("field", "itemId")
	}
	return nil
}

// Entry is the ledger balance of one item in one warehouse.
// Invariants after every mutation:
//
//	TotalQuantity = GeneralQuantity + ReserveQuantity
//	0 <= GeneralAllocated <= GeneralQuantity
//	0 <= ReserveAllocated <= ReserveQuantity
type Entry struct {
	entity.AuditableRecord

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID `db:"item_id" json:"itemId"`

	TotalQuantity    types.Quantity `db:"total_quantity" json:"totalQuantity"`
	GeneralQuantity  types.Quantity `db:"general_quantity" json:"generalQuantity"`
	ReserveQuantity  types.Quantity `db:"reserve_quantity" json:"reserveQuantity"`
	GeneralAllocated types.Quantity `db:"general_allocated" json:"generalAllocated"`
	ReserveAllocated types.Quantity `db:"reserve_allocated" json:"reserveAllocated"`

	MinimumReserveRequired types.Quantity `db:"minimum_reserve_required" json:"minimumReserveRequired"`
	ReorderPoint           types.Quantity `db:"reorder_point" json:"reorderPoint"`
}

// NewEntry creates an empty entry for key. Entries are created on first receipt.
func NewEntry(key Key, actor string) *Entry {
	return &Entry{
		AuditableRecord: entity.NewAuditableRecord(actor),
		WarehouseID:     key.WarehouseID,
		ItemID:          key.ItemID,
	}
}

// Key returns the entry address.
func (e *Entry) Key() Key {
	return Key{WarehouseID: e.WarehouseID, ItemID: e.ItemID}
}

// AvailableGeneral is general stock not earmarked by an allocation.
func (e *Entry) AvailableGeneral() types.Quantity {
	return e.GeneralQuantity - e.GeneralAllocated
}

// AvailableReserve is reserve stock not earmarked by an allocation.
func (e *Entry) AvailableReserve() types.Quantity {
	return e.ReserveQuantity - e.ReserveAllocated
}

// Availability returns the caller-facing availability snapshot.
func (e *Entry) Availability() Availability {
	return Availability{
		WarehouseID:      e.WarehouseID,
		ItemID:           e.ItemID,
		AvailableGeneral: e.AvailableGeneral(),
		AvailableReserve: e.AvailableReserve(),
		TotalQuantity:    e.TotalQuantity,
		Version:          e.Version,
	}
}

// Available returns the available quantity of pool.
func (e *Entry) Available(pool Pool) types.Quantity {
	if pool == PoolReserve {
		return e.AvailableReserve()
	}
	return e.AvailableGeneral()
}

// --- Mutation primitives ---
//
// Each primitive validates first and only then assigns, so a failed call
// leaves the entry unchanged.

// Receive adds received stock to both pools. A zero receipt changes nothing.
func (e *Entry) Receive(generalDelta, reserveDelta types.Quantity) error {
	if generalDelta.IsNegative() || reserveDelta.IsNegative() {
		return apperror.NewValidation("received quantities must not be negative").
			WithDetail("general", generalDelta.String()).
			WithDetail("reserve", reserveDelta.String())
	}
	general, okGeneral := e.GeneralQuantity.AddChecked(generalDelta)
	reserve, okReserve := e.ReserveQuantity.AddChecked(reserveDelta)
	_, okTotal := general.AddChecked(reserve)
	if !okGeneral || !okReserve || !okTotal {
		return apperror.NewValidation("receipt exceeds the maximum ledger quantity").
			WithDetail("general", generalDelta.String()).
			WithDetail("reserve", reserveDelta.String())
	}
	e.GeneralQuantity = general
	e.ReserveQuantity = reserve
	e.recomputeTotal()
	return nil
}

// AllocateGeneral earmarks general stock.
func (e *Entry) AllocateGeneral(qty types.Quantity) error {
	return e.allocate(PoolGeneral, qty)
}

// AllocateReserve earmarks reserve stock.
func (e *Entry) AllocateReserve(qty types.Quantity) error {
	return e.allocate(PoolReserve, qty)
}

func (e *Entry) allocate(pool Pool, qty types.Quantity) error {
	if err := requirePositive(qty); err != nil {
		return err
	}
	if available := e.Available(pool); qty > available {
		return apperror.NewInsufficientAvailability(string(pool), qty, available)
	}
	*e.allocated(pool) += qty
	return nil
}

// ReleaseGeneralAllocation consummates an earmark into a physical deduction.
func (e *Entry) ReleaseGeneralAllocation(qty types.Quantity) error {
	return e.release(PoolGeneral, qty, true)
}

// ReleaseReserveAllocation consummates a reserve earmark into a physical deduction.
func (e *Entry) ReleaseReserveAllocation(qty types.Quantity) error {
	return e.release(PoolReserve, qty, true)
}

// CancelGeneralAllocation drops an earmark without touching physical stock.
func (e *Entry) CancelGeneralAllocation(qty types.Quantity) error {
	return e.release(PoolGeneral, qty, false)
}

// CancelReserveAllocation drops a reserve earmark without touching physical stock.
func (e *Entry) CancelReserveAllocation(qty types.Quantity) error {
	return e.release(PoolReserve, qty, false)
}

func (e *Entry) release(pool Pool, qty types.Quantity, deduct bool) error {
	if err := requirePositive(qty); err != nil {
		return err
	}
	allocated := e.allocated(pool)
	if qty > *allocated {
		return apperror.NewOverRelease(string(pool), qty, *allocated)
	}
	*allocated -= qty
	if deduct {
		*e.quantity(pool) -= qty
		e.recomputeTotal()
	}
	return nil
}

// AdjustGeneral changes general stock directly (no prior earmark).
func (e *Entry) AdjustGeneral(delta types.Quantity) error {
	return e.adjust(PoolGeneral, delta)
}

// AdjustReserve changes reserve stock directly (no prior earmark).
func (e *Entry) AdjustReserve(delta types.Quantity) error {
	return e.adjust(PoolReserve, delta)
}

func (e *Entry) adjust(pool Pool, delta types.Quantity) error {
	if delta.IsZero() {
		return apperror.NewValidation("adjustment must be non-zero")
	}
	quantity := e.quantity(pool)
	// Stock already earmarked cannot be removed by a direct adjustment.
	if next := *quantity + delta; next < *e.allocated(pool) || e.TotalQuantity+delta < 0 {
		return apperror.NewInsufficientAvailability(string(pool), delta.Neg(), e.Available(pool))
	}
	*quantity += delta
	e.recomputeTotal()
	return nil
}

// MoveBetweenPools shifts unallocated stock from one pool to the other.
// The total is unchanged.
func (e *Entry) MoveBetweenPools(from Pool, qty types.Quantity) error {
	if err := requirePositive(qty); err != nil {
		return err
	}
	if available := e.Available(from); qty > available {
		return apperror.NewInsufficientAvailability(string(from), qty, available)
	}
	*e.quantity(from) -= qty
	*e.quantity(from.Other()) += qty
	e.recomputeTotal()
	return nil
}

// SetThresholds replaces the reorder point and minimum reserve.
func (e *Entry) SetThresholds(reorderPoint, minimumReserve types.Quantity) error {
	if reorderPoint.IsNegative() || minimumReserve.IsNegative() {
		return apperror.NewValidation("thresholds must not be negative")
	}
	e.ReorderPoint = reorderPoint
	e.MinimumReserveRequired = minimumReserve
	return nil
}

// CheckInvariants verifies the balance invariants.
func (e *Entry) CheckInvariants() error {
	switch {
	case e.TotalQuantity != e.GeneralQuantity+e.ReserveQuantity:
		return fmt.Errorf("ledger %s: total %s != general %s + reserve %s", e.Key(), e.TotalQuantity, e.GeneralQuantity, e.ReserveQuantity)
	case e.GeneralAllocated.IsNegative() || e.GeneralAllocated > e.GeneralQuantity:
		return fmt.Errorf("ledger %s: general allocated %s outside [0, %s]", e.Key(), e.GeneralAllocated, e.GeneralQuantity)
	case e.ReserveAllocated.IsNegative() || e.ReserveAllocated > e.ReserveQuantity:
		return fmt.Errorf("ledger %s: reserve allocated %s outside [0, %s]", e.Key(), e.ReserveAllocated, e.ReserveQuantity)
	}
	return nil
}

func (e *Entry) quantity(pool Pool) *types.Quantity {
	if pool == PoolReserve {
		return &e.ReserveQuantity
	}
	return &e.GeneralQuantity
}

func (e *Entry) allocated(pool Pool) *types.Quantity {
	if pool == PoolReserve {
		return &e.ReserveAllocated
	}
	return &e.GeneralAllocated
}

func (e *Entry) recomputeTotal() {
	e.TotalQuantity = e.GeneralQuantity + e.ReserveQuantity
}

func requirePositive(qty types.Quantity) error {
	if !qty.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty.String())
	}
	return nil
}

// --- Queries ---

// Thresholds configures derived stock-level queries.
type Thresholds struct {
	// CriticalFactor scales the reorder point for IsCriticalStock (default 0.5).
	CriticalFactor decimal.Decimal
}

// DefaultThresholds returns the standard critical factor of 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{CriticalFactor: decimal.NewFromFloat(0.5)}
}

// IsBelowReorderPoint reports total < reorder point.
func (e *Entry) IsBelowReorderPoint() bool {
	return e.TotalQuantity < e.ReorderPoint
}

// IsCriticalStock reports total < reorder point × factor.
func (e *Entry) IsCriticalStock(t Thresholds) bool {
	factor := t.CriticalFactor
	if factor.IsZero() {
		factor = DefaultThresholds().CriticalFactor
	}
	return e.TotalQuantity.Decimal().LessThan(e.ReorderPoint.Decimal().Mul(factor))
}

// IsReserveBelowMinimum reports reserve < minimum required.
func (e *Entry) IsReserveBelowMinimum() bool {
	return e.ReserveQuantity < e.MinimumReserveRequired
}

// ReservePercentage is reserve / total × 100, or 0 for an empty entry.
func (e *Entry) ReservePercentage() decimal.Decimal {
	if e.TotalQuantity.IsZero() {
		return decimal.Zero
	}
	return e.ReserveQuantity.Decimal().
		Div(e.TotalQuantity.Decimal()).
		Mul(decimal.NewFromInt(100))
}

// Level summarizes which thresholds an entry is past.
type Level struct {
	BelowReorderPoint   bool `json:"belowReorderPoint"`
	Critical            bool `json:"critical"`
	ReserveBelowMinimum bool `json:"reserveBelowMinimum"`
}

// Level evaluates all thresholds.
func (e *Entry) Level(t Thresholds) Level {
	return Level{
		BelowReorderPoint:   e.IsBelowReorderPoint(),
		Critical:            e.IsCriticalStock(t),
		ReserveBelowMinimum: e.IsReserveBelowMinimum(),
	}
}

// Availability is the result of GetAvailability.
type Availability struct {
	WarehouseID      id.ID          `json:"warehouseId"`
	ItemID           id.ID          `json:"itemId"`
	AvailableGeneral types.Quantity `json:"availableGeneral"`
	AvailableReserve types.Quantity `json:"availableReserve"`
	TotalQuantity    types.Quantity `json:"totalQuantity"`
	// Version of the entry the snapshot was read from.
	Version int `json:"version"`
}

// --- Movement journal ---

// MovementKind classifies a journal row.
type MovementKind string

const (
	MovementReceipt           MovementKind = "receipt"
	MovementAllocate          MovementKind = "allocate"
	MovementReleaseAllocation MovementKind = "release_allocation"
	MovementCancelAllocation  MovementKind = "cancel_allocation"
	MovementAdjust            MovementKind = "adjust"
	MovementTransferIn        MovementKind = "transfer_in"
	MovementTransferOut       MovementKind = "transfer_out"
	MovementRebalance         MovementKind = "rebalance"
)

// Source identifies the document that caused a mutation.
type Source struct {
	DocumentType string `json:"documentType,omitempty"`
	DocumentID   id.ID  `json:"documentId,omitempty"`
}

// Movement is an append-only journal row written by every ledger mutation.
type Movement struct {
	ID             id.ID          `db:"id" json:"id"`
	WarehouseID    id.ID          `db:"warehouse_id" json:"warehouseId"`
	ItemID         id.ID          `db:"item_id" json:"itemId"`
	Pool           Pool           `db:"pool" json:"pool"`
	Kind           MovementKind   `db:"kind" json:"kind"`
	QuantityDelta  types.Quantity `db:"quantity_delta" json:"quantityDelta"`
	AllocatedDelta types.Quantity `db:"allocated_delta" json:"allocatedDelta"`
	RecorderType   string         `db:"recorder_type" json:"recorderType,omitempty"`
	RecorderID     id.ID          `db:"recorder_id" json:"recorderId"`
	Actor          string         `db:"actor" json:"actor,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

func movement(pool Pool, kind MovementKind, qtyDelta, allocDelta types.Quantity) Movement {
	return Movement{Pool: pool, Kind: kind, QuantityDelta: qtyDelta, AllocatedDelta: allocDelta}
}
