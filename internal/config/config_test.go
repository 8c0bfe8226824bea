package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CRITICAL_STOCK_FACTOR", "")
	t.Setenv("NOTIFY_SINK", "")

	cfg := Load()
	assert.True(t, cfg.UseMemoryStore())
	assert.Empty(t, cfg.JWTSecret, "no weak default secret")
	assert.Equal(t, "0.5", cfg.CriticalStockFactor.String())
	assert.Equal(t, SinkLog, cfg.NotifySink)
	assert.Equal(t, 30, cfg.CustodyMaxDays)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CRITICAL_STOCK_FACTOR", "0.25")
	t.Setenv("CUSTODY_MAX_DAYS", "14")
	t.Setenv("WORKER_POLL_INTERVAL", "15s")
	t.Setenv("NOTIFY_SINK", "RabbitMQ")

	cfg := Load()
	assert.Equal(t, "0.25", cfg.CriticalStockFactor.String())
	assert.Equal(t, 14, cfg.CustodyMaxDays)
	assert.Equal(t, 15*time.Second, cfg.WorkerPollInterval)
	assert.Equal(t, SinkRabbitMQ, cfg.NotifySink)
}

func TestLoad_InvalidFactorFallsBack(t *testing.T) {
	t.Setenv("CRITICAL_STOCK_FACTOR", "-1")
	assert.Equal(t, "0.5", Load().CriticalStockFactor.String())
}
