package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/infrastructure/http/v1/dto"
)

// CustodyHandler exposes the operational custody lifecycle.
type CustodyHandler struct {
	*BaseHandler
	service *custody.Service
	maxDays int
	now     func() time.Time
}

// NewCustodyHandler creates a new custody handler. maxDays is the default
// overdue threshold.
func NewCustodyHandler(base *BaseHandler, service *custody.Service, maxDays int) *CustodyHandler {
	return &CustodyHandler{
		BaseHandler: base,
		service:     service,
		maxDays:     maxDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (h *CustodyHandler) toResponse(r *custody.Record) dto.CustodyResponse {
	return dto.FromCustody(r, h.maxDays, h.now())
}

func (h *CustodyHandler) respond(c *gin.Context, rec *custody.Record, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, h.toResponse(rec))
}

// Issue handles POST /custody.
func (h *CustodyHandler) Issue(c *gin.Context) {
	var req dto.IssueCustodyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	issue, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	rec, err := h.service.Issue(c.Request.Context(), issue)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, h.toResponse(rec))
}

// Get handles GET /custody/:id.
func (h *CustodyHandler) Get(c *gin.Context) {
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	rec, err := h.service.Get(c.Request.Context(), recordID)
	h.respond(c, rec, err)
}

// Return handles POST /custody/:id/return.
func (h *CustodyHandler) Return(c *gin.Context) {
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.ReturnCustodyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	receiverID, err := dto.ParseID("receiverId", req.ReceiverID)
	if err != nil {
		h.Error(c, err)
		return
	}
	rec, err := h.service.Return(c.Request.Context(), recordID, req.Quantity, receiverID)
	h.respond(c, rec, err)
}

// Consume handles POST /custody/:id/consume.
func (h *CustodyHandler) Consume(c *gin.Context) {
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.ConsumeCustodyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	rec, err := h.service.Consume(c.Request.Context(), recordID, req.Quantity)
	h.respond(c, rec, err)
}

// Transfer handles POST /custody/:id/transfer.
func (h *CustodyHandler) Transfer(c *gin.Context) {
	recordID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.TransferCustodyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	workerID, err := dto.ParseID("workerId", req.WorkerID)
	if err != nil {
		h.Error(c, err)
		return
	}
	departmentID := id.Nil()
	if req.DepartmentID != "" {
		if departmentID, err = dto.ParseID("departmentId", req.DepartmentID); err != nil {
			h.Error(c, err)
			return
		}
	}
	rec, err := h.service.Transfer(c.Request.Context(), recordID, workerID, departmentID)
	h.respond(c, rec, err)
}

// Overdue handles GET /custody/overdue?maxDays=N.
func (h *CustodyHandler) Overdue(c *gin.Context) {
	maxDays := h.maxDays
	if raw := c.Query("maxDays"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.Error(c, apperror.NewValidation("maxDays must be a non-negative integer").WithDetail("value", raw))
			return
		}
		maxDays = parsed
	}

	now := h.now()
	records, err := h.service.ListOverdue(c.Request.Context(), maxDays, now)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.MapList(records, func(r *custody.Record) dto.CustodyResponse {
		return dto.FromCustody(r, maxDays, now)
	}), dto.PaginationRequest{}))
}

// ListByWorker handles GET /workers/:workerId/custody?openOnly=true.
func (h *CustodyHandler) ListByWorker(c *gin.Context) {
	workerID, ok := h.ParamID(c, "workerId")
	if !ok {
		return
	}
	records, err := h.service.ListByWorker(c.Request.Context(), workerID, c.Query("openOnly") == "true")
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.MapList(records, h.toResponse), dto.PaginationRequest{}))
}

// Outstanding handles GET /workers/:workerId/custody/outstanding/:itemId.
func (h *CustodyHandler) Outstanding(c *gin.Context) {
	workerID, ok := h.ParamID(c, "workerId")
	if !ok {
		return
	}
	itemID, ok := h.ParamID(c, "itemId")
	if !ok {
		return
	}
	total, err := h.service.Outstanding(c.Request.Context(), workerID, itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.OutstandingResponse{
		WorkerID:    workerID.String(),
		ItemID:      itemID.String(),
		Outstanding: total,
	})
}
