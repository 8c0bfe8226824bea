package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
)

// --- Request DTOs ---

// ReceiveRequest books incoming stock into both pools.
type ReceiveRequest struct {
	GeneralQuantity types.Quantity `json:"generalQuantity"`
	ReserveQuantity types.Quantity `json:"reserveQuantity"`
	Source          SourceRequest  `json:"source"`
}

// PoolQuantityRequest drives allocate, release and cancel.
type PoolQuantityRequest struct {
	Pool     ledger.Pool    `json:"pool"`
	Quantity types.Quantity `json:"quantity"`
	Source   SourceRequest  `json:"source"`
}

// PoolOrDefault returns the requested pool, general when omitted.
func (r PoolQuantityRequest) PoolOrDefault() ledger.Pool {
	if r.Pool == "" {
		return ledger.PoolGeneral
	}
	return r.Pool
}

// AdjustRequest changes physical stock of a pool directly.
type AdjustRequest struct {
	Pool   ledger.Pool    `json:"pool"`
	Delta  types.Quantity `json:"delta"`
	Reason string         `json:"reason,omitempty"`
	Source SourceRequest  `json:"source"`
}

// ThresholdsRequest replaces the reorder point and minimum reserve.
type ThresholdsRequest struct {
	ReorderPoint   types.Quantity `json:"reorderPoint"`
	MinimumReserve types.Quantity `json:"minimumReserve"`
}

// TransferRequest moves general stock between warehouses.
type TransferRequest struct {
	FromWarehouseID string         `json:"fromWarehouseId" binding:"required"`
	ToWarehouseID   string         `json:"toWarehouseId" binding:"required"`
	ItemID          string         `json:"itemId" binding:"required"`
	Quantity        types.Quantity `json:"quantity"`
	Source          SourceRequest  `json:"source"`
}

// ToDomain parses ids.
func (r TransferRequest) ToDomain() (ledger.TransferRequest, error) {
	from, err := ParseID("fromWarehouseId", r.FromWarehouseID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	to, err := ParseID("toWarehouseId", r.ToWarehouseID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	item, err := ParseID("itemId", r.ItemID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	return ledger.TransferRequest{
		FromWarehouseID: from,
		ToWarehouseID:   to,
		ItemID:          item,
		Quantity:        r.Quantity,
	}, nil
}

// LedgerListQuery filters GET /ledger.
type LedgerListQuery struct {
	PaginationRequest
	WarehouseID       string `form:"warehouseId"`
	ItemID            string `form:"itemId"`
	BelowReorderPoint bool   `form:"belowReorderPoint"`
}

// ToFilter converts the query to a ledger filter.
func (q LedgerListQuery) ToFilter() (ledger.ListFilter, error) {
	filter := ledger.ListFilter{
		BelowReorderPoint: q.BelowReorderPoint,
		Limit:             q.Limit,
		Offset:            q.Offset,
	}
	var err error
	if filter.WarehouseID, err = ParseOptionalID("warehouseId", q.WarehouseID); err != nil {
		return filter, err
	}
	if filter.ItemID, err = ParseOptionalID("itemId", q.ItemID); err != nil {
		return filter, err
	}
	return filter, nil
}

// MovementListQuery filters the movement journal.
type MovementListQuery struct {
	PaginationRequest
	Pool string     `form:"pool"`
	From *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// ToFilter converts the query to a movement filter.
func (q MovementListQuery) ToFilter() (ledger.MovementFilter, error) {
	filter := ledger.MovementFilter{
		FromDate: q.From,
		ToDate:   q.To,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.Pool != "" {
		pool := ledger.Pool(q.Pool)
		if err := pool.Validate(); err != nil {
			return filter, err
		}
		filter.Pool = &pool
	}
	return filter, nil
}

// --- Response DTOs ---

// EntryResponse is a ledger entry with derived availability.
type EntryResponse struct {
	*ledger.Entry
	AvailableGeneral  types.Quantity  `json:"availableGeneral"`
	AvailableReserve  types.Quantity  `json:"availableReserve"`
	ReservePercentage decimal.Decimal `json:"reservePercentage"`
	Level             ledger.Level    `json:"level"`
}

// FromEntry creates EntryResponse.
func FromEntry(e *ledger.Entry, t ledger.Thresholds) EntryResponse {
	return EntryResponse{
		Entry:             e,
		AvailableGeneral:  e.AvailableGeneral(),
		AvailableReserve:  e.AvailableReserve(),
		ReservePercentage: e.ReservePercentage().Round(2),
		Level:             e.Level(t),
	}
}

// TransferResponse holds both sides of a transfer.
type TransferResponse struct {
	From EntryResponse `json:"from"`
	To   EntryResponse `json:"to"`
}

// --- Helpers ---

// ParseID parses a required id field.
func ParseID(field, raw string) (id.ID, error) {
	parsed, err := id.Parse(raw)
	if err != nil || id.IsNil(parsed) {
		return id.Nil(), apperror.NewValidation("invalid id format").
			WithDetail("field", field).
			WithDetail("value", raw)
	}
	return parsed, nil
}

// ParseOptionalID parses an optional id field; empty yields nil.
func ParseOptionalID(field, raw string) (*id.ID, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := ParseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ToSource converts the request source, defaulting the document type.
func (s SourceRequest) ToSource(defaultType string) (ledger.Source, error) {
	src := ledger.Source{DocumentType: s.DocumentType}
	if src.DocumentType == "" {
		src.DocumentType = defaultType
	}
	if s.DocumentID != "" {
		docID, err := ParseID("source.documentId", s.DocumentID)
		if err != nil {
			return src, err
		}
		src.DocumentID = docID
	}
	return src, nil
}

// ReserveQuantityRequest moves or allocates reserve quantity.
type ReserveQuantityRequest struct {
	Quantity types.Quantity `json:"quantity"`
	Source   SourceRequest  `json:"source"`
}

// ReserveTargetRequest resizes the reserve pool.
type ReserveTargetRequest struct {
	Target types.Quantity `json:"target"`
	Source SourceRequest  `json:"source"`
}

// MinimumReserveRequest sets the minimum reserve.
type MinimumReserveRequest struct {
	Minimum types.Quantity `json:"minimum"`
}
