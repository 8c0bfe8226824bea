package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"quartermaster/internal/core/apperror"
)

const idempotencyPrefix = "qm:idempotency:"

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
)

// IdempotencyRequest identifies the request a key was first used for.
type IdempotencyRequest struct {
	UserID      string `json:"userId"`
	Operation   string `json:"operation"`
	RequestHash string `json:"requestHash"` // SHA256 of request body
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type idempotencyRecord struct {
	IdempotencyRequest
	Status IdempotencyStatus  `json:"status"`
	Replay *IdempotencyReplay `json:"replay,omitempty"`
}

// RedisIdempotencyStore keeps idempotency keys in Redis with a TTL.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a store. ttl <= 0 selects 10 minutes.
func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

// Client exposes the underlying client for sharing with other caches.
func (s *RedisIdempotencyStore) Client() redis.UniversalClient {
	return s.client
}

// Acquire claims key for req.
// Returns:
//   - (nil, nil) if the key was claimed by this call
//   - (replay, nil) if the operation already completed
//   - (nil, IdempotencyConflict) if the key is in flight or belongs to another request
func (s *RedisIdempotencyStore) Acquire(ctx context.Context, key string, req IdempotencyRequest) (*IdempotencyReplay, error) {
	pending, err := json.Marshal(idempotencyRecord{IdempotencyRequest: req, Status: IdempotencyStatusPending})
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, idempotencyPrefix+key, pending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err == redis.Nil {
		// Expired between SETNX and GET.
		return s.Acquire(ctx, key, req)
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}

	var record idempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}

	if record.IdempotencyRequest != req {
		return nil, apperror.NewIdempotencyConflict(key, "idempotency key was used for a different request").
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", req.Operation)
	}
	if record.Status == IdempotencyStatusSuccess && record.Replay != nil {
		return record.Replay, nil
	}
	return nil, apperror.NewIdempotencyConflict(key, "request with this idempotency key is still being processed")
}

// Complete stores the response for replay.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, req IdempotencyRequest, replay IdempotencyReplay) error {
	done, err := json.Marshal(idempotencyRecord{IdempotencyRequest: req, Status: IdempotencyStatusSuccess, Replay: &replay})
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	return s.client.Set(ctx, idempotencyPrefix+key, done, s.ttl).Err()
}

// Release forgets key so the client may retry.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyPrefix+key).Err()
}
