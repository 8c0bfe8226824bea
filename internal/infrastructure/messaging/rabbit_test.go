package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/notify"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestPublisher_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: "quartermaster.events"}

	event := notify.NewEvent(context.Background(), notify.EventBOQApproved, "boq", id.New(), map[string]any{"number": "BOQ-20261018-0001"})
	require.NoError(t, p.Deliver(context.Background(), event))

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.Equal(t, "quartermaster.events", sent.exchange)
	assert.Equal(t, notify.EventBOQApproved, sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	var decoded notify.Event
	require.NoError(t, json.Unmarshal(sent.msg.Body, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "BOQ-20261018-0001", decoded.Payload["number"])
}

func TestPublisher_HandleWrapsError(t *testing.T) {
	p := &Publisher{ch: &fakeChannel{err: errors.New("channel closed")}, exchange: "x"}

	err := p.Handle(context.Background(), notify.Event{Type: notify.EventCriticalStock})
	require.Error(t, err)
	assert.Contains(t, err.Error(), notify.EventCriticalStock)
}
