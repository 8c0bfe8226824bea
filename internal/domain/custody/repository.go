package custody

import (
	"context"
	"time"

	"quartermaster/internal/core/id"
)

// Repository persists custody records.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, recordID id.ID) (*Record, error)

	// GetForUpdate locks the record until the transaction ends.
	GetForUpdate(ctx context.Context, recordID id.ID) (*Record, error)

	// Update saves rec if its version still matches, then bumps the version.
	Update(ctx context.Context, rec *Record) error

	List(ctx context.Context, filter ListFilter) ([]*Record, error)
}

// ListFilter narrows custody listings.
type ListFilter struct {
	WorkerID     *id.ID
	ItemID       *id.ID
	WarehouseID  *id.ID
	Statuses     []Status
	IssuedBefore *time.Time
	Limit        int
	Offset       int
}

// WorkerDirectory resolves workers.
type WorkerDirectory interface {
	GetWorker(ctx context.Context, workerID id.ID) (*Worker, error)

	// GetWorkerForUpdate locks the worker until the transaction ends.
	// Issues to one worker serialize on it while custody limits are checked.
	GetWorkerForUpdate(ctx context.Context, workerID id.ID) (*Worker, error)
}
