package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/config"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
)

func memoryConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		NotifySink:     config.SinkLog,
		CustodyMaxDays: 30,
	}
}

func TestNew_MemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Equal(t, StorageMemory, a.Storage)
	assert.Nil(t, a.IdempotencyStore(), "no redis configured")
	assert.Nil(t, a.PoolStats())
	assert.NoError(t, a.Ping(ctx))

	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "seed", Roles: []string{security.RoleStorekeeper}})
	key := ledger.Key{WarehouseID: id.New(), ItemID: id.New()}
	entry, err := a.Ledger.Receive(ctx, key, types.NewQuantity(10), types.NewQuantity(2), ledger.Source{DocumentType: "test"})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(12), entry.TotalQuantity)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"missing secret", func(c *config.Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"outbox without database", func(c *config.Config) { c.NotifySink = config.SinkOutbox }, "DATABASE_URL"},
		{"rabbit without url", func(c *config.Config) { c.NotifySink = config.SinkRabbitMQ }, "RABBITMQ_URL"},
		{"unknown sink", func(c *config.Config) { c.NotifySink = "pigeon" }, "pigeon"},
		{"bad policy", func(c *config.Config) { c.ReservePolicy = "roles +" }, "reserve policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(&cfg)
			_, err := New(ctx, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestClose_RunsInReverseOrder(t *testing.T) {
	var order []int
	a := &App{}
	a.onClose(func(context.Context) error { order = append(order, 1); return nil })
	a.onClose(func(context.Context) error { order = append(order, 2); return nil })

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
	require.NoError(t, a.Close(context.Background()), "second close is a no-op")
	assert.Len(t, order, 2)
}
