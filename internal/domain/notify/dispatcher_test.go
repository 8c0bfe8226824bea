package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/id"
)

type blockingSink struct {
	release chan struct{}
	rec     Recorder
}

func (s *blockingSink) Deliver(ctx context.Context, e Event) error {
	<-s.release
	return s.rec.Deliver(ctx, e)
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, Event) error { return errors.New("broker down") }

func TestDispatcher_DeliversQueuedEventsOnClose(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, 8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Notify(ctx, NewEvent(ctx, EventBOQApproved, "boq", id.New(), nil))
	}

	require.NoError(t, d.Close(ctx))
	assert.Len(t, rec.Events(), 5)

	// after close events are dropped, not panicking on a closed channel
	d.Notify(ctx, NewEvent(ctx, EventBOQApproved, "boq", id.New(), nil))
	assert.Len(t, rec.Events(), 5)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(sink, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Notify(ctx, NewEvent(ctx, EventCriticalStock, "ledger_entry", id.New(), nil))
	}
	assert.Less(t, time.Since(start), time.Second, "notify must not block")

	close(sink.release)
	require.NoError(t, d.Close(ctx))
	assert.Less(t, len(sink.rec.Events()), 10)
	assert.NotEmpty(t, sink.rec.Events())
}

func TestDispatcher_SinkErrorsAreSwallowed(t *testing.T) {
	d := NewDispatcher(failingSink{}, 4)
	ctx := context.Background()
	d.Notify(ctx, NewEvent(ctx, EventBOQRejected, "boq", id.New(), nil))
	assert.NoError(t, d.Close(ctx))
}
