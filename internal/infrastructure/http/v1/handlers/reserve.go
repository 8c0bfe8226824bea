package handlers

import (
	"github.com/gin-gonic/gin"

	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/http/v1/dto"
)

// ReserveHandler exposes the Commander's Reserve protocol.
type ReserveHandler struct {
	*BaseHandler
	service    *reserve.Service
	thresholds ledger.Thresholds
}

// NewReserveHandler creates a new reserve handler.
func NewReserveHandler(base *BaseHandler, service *reserve.Service, thresholds ledger.Thresholds) *ReserveHandler {
	return &ReserveHandler{BaseHandler: base, service: service, thresholds: thresholds}
}

// MoveToReserve handles POST /reserve/:warehouseId/:itemId/move-in.
func (h *ReserveHandler) MoveToReserve(c *gin.Context) {
	h.quantityOperation(c, h.service.MoveGeneralToReserve)
}

// ReleaseToGeneral handles POST /reserve/:warehouseId/:itemId/release.
func (h *ReserveHandler) ReleaseToGeneral(c *gin.Context) {
	h.quantityOperation(c, h.service.ReleaseReserveToGeneral)
}

// Allocate handles POST /reserve/:warehouseId/:itemId/allocate.
func (h *ReserveHandler) Allocate(c *gin.Context) {
	h.quantityOperation(c, h.service.AllocateReserve)
}

// ReleaseAllocation handles POST /reserve/:warehouseId/:itemId/release-allocation.
func (h *ReserveHandler) ReleaseAllocation(c *gin.Context) {
	h.quantityOperation(c, h.service.ReleaseReserveAllocation)
}

// AdjustTarget handles PUT /reserve/:warehouseId/:itemId/target.
func (h *ReserveHandler) AdjustTarget(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.ReserveTargetRequest
	if !h.BindJSON(c, &req) {
		return
	}
	src, err := req.Source.ToSource(reserve.DocumentType)
	if err != nil {
		h.Error(c, err)
		return
	}
	entry, err := h.service.AdjustReserveTarget(c.Request.Context(), key, req.Target, src)
	h.respond(c, entry, err)
}

// SetMinimum handles PUT /reserve/:warehouseId/:itemId/minimum.
func (h *ReserveHandler) SetMinimum(c *gin.Context) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.MinimumReserveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	entry, err := h.service.SetMinimumReserve(c.Request.Context(), key, req.Minimum)
	h.respond(c, entry, err)
}

func (h *ReserveHandler) quantityOperation(c *gin.Context, op poolOp) {
	key, ok := h.ParamKey(c)
	if !ok {
		return
	}
	var req dto.ReserveQuantityRequest
	if !h.BindJSON(c, &req) {
		return
	}
	src, err := req.Source.ToSource(reserve.DocumentType)
	if err != nil {
		h.Error(c, err)
		return
	}
	entry, err := op(c.Request.Context(), key, req.Quantity, src)
	h.respond(c, entry, err)
}

func (h *ReserveHandler) respond(c *gin.Context, entry *ledger.Entry, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromEntry(entry, h.thresholds))
}
