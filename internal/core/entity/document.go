package entity

import (
	"context"
	"time"

	"quartermaster/internal/core/apperror"
)

// Document is the base type for numbered business documents (BOQs, custody slips).
type Document struct {
	AuditableRecord

	// Number is the document number (auto-generated, unique within type+period)
	Number string `db:"number" json:"number"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	// Comment is an optional user comment
	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document dated now.
func NewDocument(actor string) Document {
	rec := NewAuditableRecord(actor)
	return Document{
		AuditableRecord: rec,
		Date:            rec.CreatedAt,
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}
	return nil
}
