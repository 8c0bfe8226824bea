package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/security"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/http/v1/dto"
)

// LedgerHandler exposes the quantity ledger.
// Reserve-pool primitives go through the reserve protocol or the reserve policy.
type LedgerHandler struct {
	*BaseHandler
	ledger     *ledger.Service
	reserve    *reserve.Service
	authorizer security.ReserveAuthorizer
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, l *ledger.Service, r *reserve.Service, authorizer security.ReserveAuthorizer) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, ledger: l, reserve: r, authorizer: authorizer}
}

func (h *LedgerHandler) respondEntry(c *gin.Context, entry *ledger.Entry, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromEntry(entry, h.ledger.Thresholds()))
}

// List handles GET /ledger.
func (h *LedgerHandler) List(c *gin.Context) {
	var q dto.LedgerListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Defaults()
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	entries, err := h.ledger.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	t := h.ledger.Thresholds()
	h.OK(c, dto.NewListResponse(dto.MapList(entries, func(e *ledger.Entry) dto.EntryResponse {
		return dto.FromEntry(e, t)
	}), q.PaginationRequest))
}

// LowStock handles GET /ledger/low-stock.
func (h *LedgerHandler) LowStock(c *gin.Context) {
	warehouseID, err := dto.ParseOptionalID("warehouseId", c.Query("warehouseId"))
	if err != nil {
		h.Error(c, err)
		return
	}
	items, err := h.ledger.ListLowStock(c.Request.Context(), warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(items, dto.PaginationRequest{}))
}

// Get handles GET /ledger/:warehouseId/:itemId.
func (h *LedgerHandler) Get(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	entry, err := h.ledger.Get(c.Request.Context(), key)
	h.respondEntry(c, entry, err)
}

// Availability handles GET /ledger/:warehouseId/:itemId/availability.
func (h *LedgerHandler) Availability(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	availability, err := h.ledger.GetAvailability(c.Request.Context(), key)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, availability)
}

// Movements handles GET /ledger/:warehouseId/:itemId/movements.
func (h *LedgerHandler) Movements(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var q dto.MovementListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Defaults()
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	movements, err := h.ledger.ListMovements(c.Request.Context(), key, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(movements, q.PaginationRequest))
}

// Receive handles POST /ledger/:warehouseId/:itemId/receive.
// Receiving into the reserve goes through the reserve policy.
func (h *LedgerHandler) Receive(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.ReceiveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	src, err := req.Source.ToSource("receipt")
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	if req.ReserveQuantity.IsPositive() {
		if err := h.authorizer.AuthorizeReserve(ctx, security.ActionReceiveReserve); err != nil {
			h.Error(c, err)
			return
		}
	}

	entry, err := h.ledger.Receive(ctx, key, req.GeneralQuantity, req.ReserveQuantity, src)
	h.respondEntry(c, entry, err)
}

// Allocate handles POST /ledger/:warehouseId/:itemId/allocate.
func (h *LedgerHandler) Allocate(c *gin.Context) {
	h.poolOperation(c, h.ledger.AllocateGeneral, h.reserve.AllocateReserve)
}

// ReleaseAllocation handles POST /ledger/:warehouseId/:itemId/release.
func (h *LedgerHandler) ReleaseAllocation(c *gin.Context) {
	h.poolOperation(c, h.ledger.ReleaseGeneralAllocation, h.reserve.ReleaseReserveAllocation)
}

// CancelAllocation handles POST /ledger/:warehouseId/:itemId/cancel.
func (h *LedgerHandler) CancelAllocation(c *gin.Context) {
	h.poolOperation(c, h.ledger.CancelGeneralAllocation, h.authorized(security.ActionReleaseAllocation, h.ledger.CancelReserveAllocation))
}

// Adjust handles POST /ledger/:warehouseId/:itemId/adjust.
func (h *LedgerHandler) Adjust(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.AdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}
	src, err := req.Source.ToSource("adjustment")
	if err != nil {
		h.Error(c, err)
		return
	}

	op := h.ledger.AdjustGeneral
	if req.Pool == ledger.PoolReserve {
		op = h.authorized(security.ActionAdjustTarget, h.ledger.AdjustReserve)
	} else if req.Pool != "" && req.Pool != ledger.PoolGeneral {
		h.Error(c, req.Pool.Validate())
		return
	}
	entry, err := op(c.Request.Context(), key, req.Delta, src)
	h.respondEntry(c, entry, err)
}

// SetThresholds handles PUT /ledger/:warehouseId/:itemId/thresholds.
// The minimum reserve goes through the reserve policy.
func (h *LedgerHandler) SetThresholds(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.ThresholdsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	entry, err := h.reserve.SetThresholds(c.Request.Context(), key, req.ReorderPoint, req.MinimumReserve)
	h.respondEntry(c, entry, err)
}

// Transfer handles POST /ledger/transfers.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	transfer, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}
	src, err := req.Source.ToSource("transfer")
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.ledger.Transfer(c.Request.Context(), transfer, src)
	if err != nil {
		h.Error(c, err)
		return
	}
	t := h.ledger.Thresholds()
	h.OK(c, dto.TransferResponse{From: dto.FromEntry(result.From, t), To: dto.FromEntry(result.To, t)})
}

type poolOp func(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error)

func (h *LedgerHandler) poolOperation(c *gin.Context, general, reserve poolOp) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.PoolQuantityRequest
	if !h.BindJSON(c, &req) {
		return
	}
	pool := req.PoolOrDefault()
	if err := pool.Validate(); err != nil {
		h.Error(c, err)
		return
	}
	src, err := req.Source.ToSource("allocation")
	if err != nil {
		h.Error(c, err)
		return
	}

	op := general
	if pool == ledger.PoolReserve {
		op = reserve
	}
	entry, err := op(c.Request.Context(), key, req.Quantity, src)
	h.respondEntry(c, entry, err)
}

func (h *LedgerHandler) authorized(action string, op poolOp) poolOp {
	return func(ctx context.Context, key ledger.Key, qty types.Quantity, src ledger.Source) (*ledger.Entry, error) {
		if err := h.authorizer.AuthorizeReserve(ctx, action); err != nil {
			return nil, err
		}
		return op(ctx, key, qty, src)
	}
}
