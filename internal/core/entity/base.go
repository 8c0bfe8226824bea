// Package entity provides base records embedded by ledger, custody and BOQ types.
package entity

import (
	"context"
	"time"

	"quartermaster/internal/core/id"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without storage access).
type Validatable interface {
	Validate(ctx context.Context) error
}

// AuditableRecord contains identity, optimistic locking and audit fields.
type AuditableRecord struct {
	// ID is the primary key (UUIDv7)
	ID id.ID `db:"id" json:"id"`

	// Version for optimistic locking (incremented on each update)
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy string    `db:"updated_by" json:"updatedBy,omitempty"`
}

// NewAuditableRecord creates a record with a generated ID and timestamps.
func NewAuditableRecord(actor string) AuditableRecord {
	now := time.Now().UTC()
	return AuditableRecord{
		ID:        id.New(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
}

// Touch records a modification by actor. The version is bumped by the repository on save.
func (r *AuditableRecord) Touch(actor string) {
	r.UpdatedAt = time.Now().UTC()
	if actor != "" {
		r.UpdatedBy = actor
	}
}

// SetVersion updates the version number (used by repository after save).
func (r *AuditableRecord) SetVersion(v int) {
	r.Version = v
}
