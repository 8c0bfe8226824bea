package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/infrastructure/http/v1/dto"
)

// BOQHandler exposes the BOQ workflow and issuance.
type BOQHandler struct {
	*BaseHandler
	service *boq.Service
}

// NewBOQHandler creates a new BOQ handler.
func NewBOQHandler(base *BaseHandler, service *boq.Service) *BOQHandler {
	return &BOQHandler{BaseHandler: base, service: service}
}

func (h *BOQHandler) respond(c *gin.Context, b *boq.BOQ, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromBOQ(b))
}

// Create handles POST /boq.
func (h *BOQHandler) Create(c *gin.Context) {
	var req dto.CreateBOQRequest
	if !h.BindJSON(c, &req) {
		return
	}
	create, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	b, err := h.service.Create(c.Request.Context(), create)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromBOQ(b))
}

// List handles GET /boq.
func (h *BOQHandler) List(c *gin.Context) {
	var q dto.BOQListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Defaults()
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	items, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.MapList(items, dto.FromBOQ), q.PaginationRequest))
}

// Get handles GET /boq/:id.
func (h *BOQHandler) Get(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	b, err := h.service.Get(c.Request.Context(), boqID)
	h.respond(c, b, err)
}

// Remaining handles GET /boq/:id/remaining.
func (h *BOQHandler) Remaining(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	items, err := h.service.ListRemaining(c.Request.Context(), boqID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.MapList(items, dto.FromBOQ), dto.PaginationRequest{}))
}

// AddLine handles POST /boq/:id/lines.
func (h *BOQHandler) AddLine(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	in, ok := h.bindLine(c)
	if !ok {
		return
	}
	b, err := h.service.AddLine(c.Request.Context(), boqID, in)
	h.respond(c, b, err)
}

// UpdateLine handles PUT /boq/:id/lines/:lineId.
func (h *BOQHandler) UpdateLine(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	lineID, ok := h.ParamID(c, "lineId")
	if !ok {
		return
	}
	in, ok := h.bindLine(c)
	if !ok {
		return
	}
	b, err := h.service.UpdateLine(c.Request.Context(), boqID, lineID, in)
	h.respond(c, b, err)
}

// RemoveLine handles DELETE /boq/:id/lines/:lineId.
func (h *BOQHandler) RemoveLine(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	lineID, ok := h.ParamID(c, "lineId")
	if !ok {
		return
	}
	b, err := h.service.RemoveLine(c.Request.Context(), boqID, lineID)
	h.respond(c, b, err)
}

// Submit handles POST /boq/:id/submit.
func (h *BOQHandler) Submit(c *gin.Context) {
	h.transition(c, h.service.Submit)
}

// Approve handles POST /boq/:id/approve.
func (h *BOQHandler) Approve(c *gin.Context) {
	h.transition(c, h.service.Approve)
}

// ApproveReserve handles POST /boq/:id/approve-reserve.
func (h *BOQHandler) ApproveReserve(c *gin.Context) {
	h.transition(c, h.service.ApproveCommanderReserve)
}

// Reject handles POST /boq/:id/reject.
func (h *BOQHandler) Reject(c *gin.Context) {
	h.withReason(c, h.service.Reject)
}

// Cancel handles POST /boq/:id/cancel.
func (h *BOQHandler) Cancel(c *gin.Context) {
	h.withReason(c, h.service.Cancel)
}

// Evaluate handles POST /boq/:id/evaluate.
// It refreshes the availability snapshots, hence POST.
func (h *BOQHandler) Evaluate(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	lines, err := h.service.Evaluate(c.Request.Context(), boqID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(lines, dto.PaginationRequest{}))
}

// Issue handles POST /boq/:id/issue.
func (h *BOQHandler) Issue(c *gin.Context) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.IssueBOQRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Issue(c.Request.Context(), boqID, lines, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromIssueResult(result))
}

func (h *BOQHandler) bindLine(c *gin.Context) (boq.LineInput, bool) {
	var req dto.BOQLineRequest
	if !h.BindJSON(c, &req) {
		return boq.LineInput{}, false
	}
	in, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return boq.LineInput{}, false
	}
	return in, true
}

func (h *BOQHandler) transition(c *gin.Context, op func(ctx context.Context, boqID id.ID) (*boq.BOQ, error)) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	b, err := op(c.Request.Context(), boqID)
	h.respond(c, b, err)
}

func (h *BOQHandler) withReason(c *gin.Context, op func(ctx context.Context, boqID id.ID, reason string) (*boq.BOQ, error)) {
	boqID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.BindJSON(c, &req) {
		return
	}
	b, err := op(c.Request.Context(), boqID, req.Reason)
	h.respond(c, b, err)
}
