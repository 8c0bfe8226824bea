// Package cache provides the Redis-backed availability cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"quartermaster/internal/domain/ledger"
)

const (
	defaultTTL    = 30 * time.Second
	keyPrefix     = "qm:availability:"
	maxSetRetries = 3
)

// RedisAvailabilityCache implements ledger.AvailabilityCache.
// Entries expire after the TTL; ledger mutations overwrite them after commit.
// Writes are fenced by entry version with WATCH/MULTI.
type RedisAvailabilityCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ ledger.AvailabilityCache = (*RedisAvailabilityCache)(nil)

// NewRedisAvailabilityCache connects to addr. ttl <= 0 selects 30s.
func NewRedisAvailabilityCache(addr, password string, db int, ttl time.Duration) *RedisAvailabilityCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisAvailabilityCacheFromClient(client, ttl)
}

// NewRedisAvailabilityCacheFromClient wraps an existing client.
func NewRedisAvailabilityCacheFromClient(client redis.UniversalClient, ttl time.Duration) *RedisAvailabilityCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisAvailabilityCache{client: client, ttl: ttl}
}

func cacheKey(key ledger.Key) string {
	return keyPrefix + key.WarehouseID.String() + ":" + key.ItemID.String()
}

func (c *RedisAvailabilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAvailabilityCache) Close() error {
	return c.client.Close()
}

func (c *RedisAvailabilityCache) Get(ctx context.Context, key ledger.Key) (ledger.Availability, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return ledger.Availability{}, false, nil
	}
	if err != nil {
		return ledger.Availability{}, false, fmt.Errorf("redis get: %w", err)
	}

	var availability ledger.Availability
	if err := json.Unmarshal(val, &availability); err != nil {
		return ledger.Availability{}, false, fmt.Errorf("decode availability: %w", err)
	}
	return availability, true, nil
}

// Set stores value unless the cached snapshot is from the same or a newer version.
func (c *RedisAvailabilityCache) Set(ctx context.Context, key ledger.Key, value ledger.Availability) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}

	k := cacheKey(key)
	write := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil && !supersedes(current, value.Version) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, c.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxSetRetries; i++ {
		err = c.client.Watch(ctx, write, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	// Lost every race; drop the key so the next read reloads it.
	return c.client.Del(ctx, k).Err()
}

// supersedes reports whether version is newer than the cached payload.
// Undecodable payloads are always replaced.
func supersedes(cached []byte, version int) bool {
	var current struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(cached, &current); err != nil {
		return true
	}
	return version > current.Version
}

func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, keys ...ledger.Key) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = cacheKey(k)
	}
	return c.client.Del(ctx, redisKeys...).Err()
}
