package dto

import (
	"time"

	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/boq"
)

// BOQLineRequest is an editable BOQ line.
type BOQLineRequest struct {
	ItemID                   string         `json:"itemId" binding:"required"`
	RequestedQuantity        types.Quantity `json:"requestedQuantity"`
	CommanderReserveQuantity types.Quantity `json:"commanderReserveQuantity"`
	UnitPrice                types.Money    `json:"unitPrice"`
	Comment                  string         `json:"comment,omitempty"`
}

// ToDomain parses the line.
func (r BOQLineRequest) ToDomain() (boq.LineInput, error) {
	itemID, err := ParseID("itemId", r.ItemID)
	if err != nil {
		return boq.LineInput{}, err
	}
	return boq.LineInput{
		ItemID:                   itemID,
		RequestedQuantity:        r.RequestedQuantity,
		CommanderReserveQuantity: r.CommanderReserveQuantity,
		UnitPrice:                r.UnitPrice,
		Comment:                  r.Comment,
	}, nil
}

// CreateBOQRequest creates a Draft BOQ.
type CreateBOQRequest struct {
	ProjectName string           `json:"projectName" binding:"required"`
	WarehouseID string           `json:"warehouseId" binding:"required"`
	Date        *time.Time       `json:"date,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	Lines       []BOQLineRequest `json:"lines" binding:"dive"`
}

// ToDomain parses the request.
func (r CreateBOQRequest) ToDomain() (boq.CreateRequest, error) {
	req := boq.CreateRequest{ProjectName: r.ProjectName, Comment: r.Comment}
	var err error
	if req.WarehouseID, err = ParseID("warehouseId", r.WarehouseID); err != nil {
		return req, err
	}
	if r.Date != nil {
		req.Date = *r.Date
	}
	for _, l := range r.Lines {
		in, err := l.ToDomain()
		if err != nil {
			return req, err
		}
		req.Lines = append(req.Lines, in)
	}
	return req, nil
}

// ReasonRequest carries a reject/cancel reason.
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// IssueLineRequest asks for quantity of an item.
type IssueLineRequest struct {
	ItemID   string         `json:"itemId" binding:"required"`
	Quantity types.Quantity `json:"quantity"`
}

// IssueBOQRequest issues stock against an approved BOQ.
type IssueBOQRequest struct {
	Lines  []IssueLineRequest `json:"lines" binding:"required,min=1,dive"`
	Reason string             `json:"reason,omitempty"`
}

// ToDomain parses the line requests.
func (r IssueBOQRequest) ToDomain() ([]boq.LineRequest, error) {
	out := make([]boq.LineRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		itemID, err := ParseID("itemId", l.ItemID)
		if err != nil {
			return nil, err
		}
		out = append(out, boq.LineRequest{ItemID: itemID, Quantity: l.Quantity})
	}
	return out, nil
}

// BOQListQuery filters GET /boq.
type BOQListQuery struct {
	PaginationRequest
	WarehouseID   string   `form:"warehouseId"`
	OriginalBOQID string   `form:"originalBoqId"`
	Status        []string `form:"status"`
}

// ToFilter converts the query to a BOQ filter.
func (q BOQListQuery) ToFilter() (boq.ListFilter, error) {
	filter := boq.ListFilter{Limit: q.Limit, Offset: q.Offset}
	var err error
	if filter.WarehouseID, err = ParseOptionalID("warehouseId", q.WarehouseID); err != nil {
		return filter, err
	}
	if filter.OriginalBOQID, err = ParseOptionalID("originalBoqId", q.OriginalBOQID); err != nil {
		return filter, err
	}
	for _, s := range q.Status {
		filter.Statuses = append(filter.Statuses, boq.Status(s))
	}
	return filter, nil
}

// BOQResponse is a BOQ with its total amount.
type BOQResponse struct {
	*boq.BOQ
	TotalAmount             types.Money `json:"totalAmount"`
	ReserveApprovalRequired bool        `json:"reserveApprovalRequired"`
}

// FromBOQ creates BOQResponse.
func FromBOQ(b *boq.BOQ) BOQResponse {
	return BOQResponse{
		BOQ:                     b,
		TotalAmount:             b.TotalAmount(),
		ReserveApprovalRequired: b.RequiresReserveApproval() && !b.ReserveApproved,
	}
}

// IssueBOQResponse is the outcome of an issuance.
type IssueBOQResponse struct {
	BOQ       BOQResponse   `json:"boq"`
	Remaining *BOQResponse  `json:"remaining,omitempty"`
	Completed []BOQResponse `json:"completed,omitempty"`
}

// FromIssueResult creates IssueBOQResponse.
func FromIssueResult(r *boq.IssueResult) IssueBOQResponse {
	resp := IssueBOQResponse{BOQ: FromBOQ(r.BOQ)}
	if r.Remaining != nil {
		rem := FromBOQ(r.Remaining)
		resp.Remaining = &rem
	}
	for _, b := range r.Completed {
		resp.Completed = append(resp.Completed, FromBOQ(b))
	}
	return resp
}
