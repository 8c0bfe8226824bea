// Package notify carries fire-and-forget domain notifications
// (approvals, rejections, threshold crossings, overdue custody) to a delivery sink.
package notify

import (
	"context"
	"time"

	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
)

// Event types.
const (
	EventBelowReorderPoint   = "stock.below_reorder_point"
	EventCriticalStock       = "stock.critical"
	EventReserveBelowMinimum = "reserve.below_minimum"

	EventBOQSubmitted       = "boq.submitted"
	EventBOQApproved        = "boq.approved"
	EventBOQReserveApproved = "boq.reserve_approved"
	EventBOQRejected        = "boq.rejected"
	EventBOQCancelled       = "boq.cancelled"
	EventBOQPartiallyIssued = "boq.partially_issued"
	EventBOQFullyIssued     = "boq.fully_issued"

	EventCustodyOverdue = "custody.overdue"
)

// Event is a single notification.
type Event struct {
	ID            id.ID          `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   id.ID          `json:"aggregateId"`
	Actor         string         `json:"actor,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// NewEvent stamps an event with id, time and the caller from ctx.
func NewEvent(ctx context.Context, eventType, aggregateType string, aggregateID id.ID, payload map[string]any) Event {
	return Event{
		ID:            id.New(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Actor:         appctx.GetUserID(ctx),
		RequestID:     appctx.GetRequestID(ctx),
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	}
}

// Notifier accepts events without blocking the caller. Delivery failures are
// never reported back to the core.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Sink delivers a single event (log, outbox table, message broker).
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}
