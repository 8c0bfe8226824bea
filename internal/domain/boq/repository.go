package boq

import (
	"context"

	"quartermaster/internal/core/id"
)

// Repository persists BOQs together with their lines.
type Repository interface {
	// Create inserts the header and all lines.
	Create(ctx context.Context, b *BOQ) error

	GetByID(ctx context.Context, boqID id.ID) (*BOQ, error)

	// GetForUpdate locks the BOQ until the transaction ends.
	GetForUpdate(ctx context.Context, boqID id.ID) (*BOQ, error)

	// Update saves header and lines if the version still matches, then bumps it.
	Update(ctx context.Context, b *BOQ) error

	List(ctx context.Context, filter ListFilter) ([]*BOQ, error)
}

// ListFilter narrows BOQ listings.
type ListFilter struct {
	WarehouseID   *id.ID
	OriginalBOQID *id.ID
	Statuses      []Status
	Limit         int
	Offset        int
}
