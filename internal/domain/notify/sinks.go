package notify

import (
	"context"
	"sync"

	"quartermaster/pkg/logger"
)

// LogSink writes events to the structured log.
type LogSink struct{}

// Deliver implements Sink.
func (LogSink) Deliver(ctx context.Context, event Event) error {
	logger.Info(ctx, "notification",
		"event_id", event.ID,
		"event_type", event.Type,
		"aggregate_type", event.AggregateType,
		"aggregate_id", event.AggregateID,
		"payload", event.Payload,
	)
	return nil
}

// Recorder keeps events in memory. It is both a Notifier and a Sink,
// used by tests and the demo seed.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Deliver implements Sink.
func (r *Recorder) Deliver(ctx context.Context, event Event) error {
	r.Notify(ctx, event)
	return nil
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
