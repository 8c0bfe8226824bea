package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/notify"
	"quartermaster/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

const (
	defaultCompressThreshold = 10 * 1024
	maxOutboxRetries         = 5
)

// OutboxMessage represents a message in the transactional outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"` // e.g. "boq", "ledger"
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"` // e.g. "boq.approved"
	Payload       []byte       `db:"payload"`    // JSON, zstd-compressed when Compressed
	Compressed    bool         `db:"compressed"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// payloadCodec compresses large payloads with zstd.
type payloadCodec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

func newPayloadCodec(threshold int) (*payloadCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}
	return &payloadCodec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

func (c *payloadCodec) encode(raw []byte) ([]byte, bool) {
	if len(raw) < c.threshold {
		return raw, false
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), true
}

func (c *payloadCodec) decode(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	raw, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return raw, nil
}

// OutboxSink writes notifications to sys_outbox. It implements notify.Sink.
// Inside a transaction the row commits with it, otherwise it is written directly.
type OutboxSink struct {
	txManager *TxManager
	codec     *payloadCodec
}

var _ notify.Sink = (*OutboxSink)(nil)

// NewOutboxSink creates an outbox sink. compressThreshold <= 0 selects 10KB.
func NewOutboxSink(txManager *TxManager, compressThreshold int) (*OutboxSink, error) {
	codec, err := newPayloadCodec(compressThreshold)
	if err != nil {
		return nil, err
	}
	return &OutboxSink{txManager: txManager, codec: codec}, nil
}

// Deliver implements notify.Sink.
func (s *OutboxSink) Deliver(ctx context.Context, event notify.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	payload, compressed := s.codec.encode(raw)

	_, err = s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, compressed, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.AggregateType, event.AggregateID, event.Type, payload, compressed, OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler publishes a decoded event.
type OutboxHandler interface {
	Handle(ctx context.Context, event notify.Event) error
}

// OutboxRelay reads pending messages and hands them to a handler.
// Used by the background worker to publish events to the message broker.
type OutboxRelay struct {
	txManager *TxManager
	codec     *payloadCodec
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) (*OutboxRelay, error) {
	codec, err := newPayloadCodec(0)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{txManager: txManager, codec: codec, batchSize: batchSize, handler: handler}, nil
}

// ProcessBatch locks a batch of due messages, publishes them and records the outcome.
// Concurrent relays skip rows locked by each other. Returns the number published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	opts := DefaultTxOptions()
	opts.MaxAttempts = 1

	err := r.txManager.RunInTransactionWithOptions(ctx, opts, func(ctx context.Context) error {
		var messages []*OutboxMessage
		err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &messages, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload, compressed, status,
			       retry_count, last_error, next_retry_at, created_at, published_at
			FROM sys_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.processMessage(ctx, msg); err != nil {
				logger.Warn(ctx, "outbox message not published",
					"message_id", msg.ID,
					"event_type", msg.EventType,
					"retry_count", msg.RetryCount,
					"error", err,
				)
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// processMessage handles a single outbox message.
func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage) error {
	querier := r.txManager.GetQuerier(ctx)

	err := r.publish(ctx, msg)
	if err != nil {
		nextRetry := time.Now().UTC().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		_, updateErr := querier.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, err.Error(), nextRetry, maxOutboxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	_, err = querier.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}

func (r *OutboxRelay) publish(ctx context.Context, msg *OutboxMessage) error {
	raw, err := r.codec.decode(msg.Payload, msg.Compressed)
	if err != nil {
		return err
	}
	var event notify.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	return r.handler.Handle(ctx, event)
}

// MoveToDLQ moves failed messages to the dead letter table.
func (r *OutboxRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox
			WHERE status = $1
			RETURNING *
		)
		INSERT INTO sys_outbox_dlq
		SELECT *, NOW() AS failed_at, last_error AS failure_reason FROM moved
	`, OutboxStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("move to DLQ: %w", err)
	}
	return result.RowsAffected(), nil
}

// PurgePublished deletes published messages older than age.
func (r *OutboxRelay) PurgePublished(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_outbox WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return result.RowsAffected(), nil
}
