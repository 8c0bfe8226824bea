package dto

import (
	"time"

	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/custody"
)

// IssueCustodyRequest hands stock to a worker.
type IssueCustodyRequest struct {
	WorkerID    string          `json:"workerId" binding:"required"`
	ItemID      string          `json:"itemId" binding:"required"`
	WarehouseID string          `json:"warehouseId" binding:"required"`
	Quantity    types.Quantity  `json:"quantity"`
	CustomLimit *types.Quantity `json:"customLimit,omitempty"`
	Comment     string          `json:"comment,omitempty"`
}

// ToDomain parses ids.
func (r IssueCustodyRequest) ToDomain() (custody.IssueRequest, error) {
	req := custody.IssueRequest{
		Quantity:    r.Quantity,
		CustomLimit: r.CustomLimit,
		Comment:     r.Comment,
	}
	var err error
	if req.WorkerID, err = ParseID("workerId", r.WorkerID); err != nil {
		return req, err
	}
	if req.ItemID, err = ParseID("itemId", r.ItemID); err != nil {
		return req, err
	}
	if req.WarehouseID, err = ParseID("warehouseId", r.WarehouseID); err != nil {
		return req, err
	}
	return req, nil
}

// ReturnCustodyRequest books stock back into the warehouse.
type ReturnCustodyRequest struct {
	Quantity   types.Quantity `json:"quantity"`
	ReceiverID string         `json:"receiverId" binding:"required"`
}

// ConsumeCustodyRequest retires stock as used up.
type ConsumeCustodyRequest struct {
	Quantity types.Quantity `json:"quantity"`
}

// TransferCustodyRequest reassigns a record. DepartmentID defaults to the new worker's.
type TransferCustodyRequest struct {
	WorkerID     string `json:"workerId" binding:"required"`
	DepartmentID string `json:"departmentId,omitempty"`
}

// CustodyResponse is a record with derived fields.
type CustodyResponse struct {
	*custody.Record
	Remaining types.Quantity `json:"remaining"`
	DaysHeld  int            `json:"daysHeld"`
	Overdue   bool           `json:"overdue"`
}

// FromCustody creates CustodyResponse.
func FromCustody(r *custody.Record, maxDays int, now time.Time) CustodyResponse {
	return CustodyResponse{
		Record:    r,
		Remaining: r.Remaining(),
		DaysHeld:  r.DaysHeld(now),
		Overdue:   r.IsOverdue(maxDays, now),
	}
}

// OutstandingResponse is a worker's open custody of one item.
type OutstandingResponse struct {
	WorkerID    string         `json:"workerId"`
	ItemID      string         `json:"itemId"`
	Outstanding types.Quantity `json:"outstanding"`
}
