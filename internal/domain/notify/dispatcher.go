package notify

import (
	"context"
	"sync"

	appctx "quartermaster/internal/core/context"
	"quartermaster/pkg/logger"
)

const defaultBufferSize = 256

type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher delivers events to a Sink on a background goroutine.
// Notify never blocks: when the buffer is full the event is dropped with a warning.
type Dispatcher struct {
	sink  Sink
	queue chan envelope

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher. bufferSize <= 0 selects the default.
func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	d := &Dispatcher{
		sink:  sink,
		queue: make(chan envelope, bufferSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify implements Notifier.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		logger.Warn(ctx, "notification dropped: dispatcher closed", "event_type", event.Type)
		return
	}

	select {
	case d.queue <- envelope{ctx: appctx.Detach(ctx), event: event}:
	default:
		logger.Warn(ctx, "notification dropped: buffer full",
			"event_type", event.Type,
			"aggregate_id", event.AggregateID,
		)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for env := range d.queue {
		if err := d.sink.Deliver(env.ctx, env.event); err != nil {
			logger.Error(env.ctx, "notification delivery failed",
				"event_type", env.event.Type,
				"aggregate_id", env.event.AggregateID,
				"error", err,
			)
		}
	}
}

// Close stops accepting events and waits until queued ones are delivered or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Notifier = (*Dispatcher)(nil)
