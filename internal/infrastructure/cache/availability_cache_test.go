package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/ledger"
)

func TestCacheKey(t *testing.T) {
	key := ledger.Key{
		WarehouseID: id.MustParse("01920000-0000-7000-8000-000000000001"),
		ItemID:      id.MustParse("01920000-0000-7000-8000-000000000002"),
	}

	assert.Equal(t,
		"qm:availability:01920000-0000-7000-8000-000000000001:01920000-0000-7000-8000-000000000002",
		cacheKey(key))
}

func TestRedisAvailabilityCache_UnreachableServerReportsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisAvailabilityCacheFromClient(client, 0)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, defaultTTL, c.ttl)

	ctx := context.Background()
	key := ledger.Key{WarehouseID: id.New(), ItemID: id.New()}

	_, ok, err := c.Get(ctx, key)
	require.Error(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Invalidate(ctx))
}

func TestSupersedes(t *testing.T) {
	tests := []struct {
		name    string
		cached  string
		version int
		want    bool
	}{
		{"newer version replaces", `{"version":2}`, 3, true},
		{"same version kept", `{"version":3}`, 3, false},
		{"stale reader kept out", `{"version":4}`, 3, false},
		{"legacy payload without version", `{"totalQuantity":"1.0000"}`, 1, true},
		{"garbage replaced", `not-json`, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, supersedes([]byte(tt.cached), tt.version))
		})
	}
}
