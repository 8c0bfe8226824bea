package ledger

import (
	"context"
	"time"

	"quartermaster/internal/core/id"
)

// Repository persists ledger entries and their movement journal.
// All mutating calls run inside a transaction started by the service.
type Repository interface {
	// Get returns the entry or a NotFound error.
	Get(ctx context.Context, key Key) (*Entry, error)

	// GetForUpdate returns the entry with a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, key Key) (*Entry, error)

	// Create inserts a new entry.
	Create(ctx context.Context, entry *Entry) error

	// Update saves the entry if its version still matches, then bumps the version.
	// A stale version yields a ConcurrentModification error.
	Update(ctx context.Context, entry *Entry) error

	// List returns entries matching filter.
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)

	// AppendMovements writes journal rows.
	AppendMovements(ctx context.Context, movements []Movement) error

	// ListMovements returns the journal for key, newest first.
	ListMovements(ctx context.Context, key Key, filter MovementFilter) ([]Movement, error)
}

// ListFilter narrows entry listings.
type ListFilter struct {
	WarehouseID *id.ID
	ItemID      *id.ID

	// BelowReorderPoint keeps entries with total < reorder point.
	BelowReorderPoint bool

	Limit  int
	Offset int
}

// MovementFilter narrows journal listings.
type MovementFilter struct {
	Pool     *Pool
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}

// AvailabilityCache caches GetAvailability results.
// Set must keep a cached value whose Version is equal or newer, so a reader
// that loaded an entry before a concurrent commit cannot overwrite the
// snapshot written after that commit.
type AvailabilityCache interface {
	Get(ctx context.Context, key Key) (Availability, bool, error)
	Set(ctx context.Context, key Key, value Availability) error
	Invalidate(ctx context.Context, keys ...Key) error
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, Key) (Availability, bool, error) { return Availability{}, false, nil }
func (NoopCache) Set(context.Context, Key, Availability) error         { return nil }
func (NoopCache) Invalidate(context.Context, ...Key) error             { return nil }
