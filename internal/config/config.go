// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Notification sinks.
const (
	SinkLog      = "log"
	SinkOutbox   = "outbox"
	SinkRabbitMQ = "rabbitmq"
)

// Config is shared by cmd/server, cmd/worker and cmd/seed.
type Config struct {
	Port        string
	LogLevel    string
	Environment string

	// DatabaseURL selects the PostgreSQL store; empty runs on the in-memory store.
	DatabaseURL string
	AutoMigrate bool

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	AvailabilityCacheTTL time.Duration
	IdempotencyTTL       time.Duration

	RabbitMQURL    string
	NotifyExchange string
	NotifySink     string

	JWTSecret     string
	ReservePolicy string

	CriticalStockFactor decimal.Decimal
	CustodyMaxDays      int
	WorkerPollInterval  time.Duration
	OutboxBatchSize     int
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	factor, err := decimal.NewFromString(getEnv("CRITICAL_STOCK_FACTOR", "0.5"))
	if err != nil || !factor.IsPositive() {
		factor = decimal.NewFromFloat(0.5)
	}

	maxDays := getEnvInt("CUSTODY_MAX_DAYS", 30)
	if maxDays < 0 {
		maxDays = 30
	}

	return Config{
		Port:                 getEnv("APP_PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Environment:          getEnv("APP_ENV", "development"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		AutoMigrate:          getEnv("AUTO_MIGRATE", "false") == "true",
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		AvailabilityCacheTTL: getEnvDuration("AVAILABILITY_CACHE_TTL", 30*time.Second),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		NotifyExchange:       getEnv("NOTIFY_EXCHANGE", "quartermaster.events"),
		NotifySink:           strings.ToLower(getEnv("NOTIFY_SINK", SinkLog)),
		JWTSecret:            strings.TrimSpace(os.Getenv("JWT_SECRET")),
		ReservePolicy:        strings.TrimSpace(os.Getenv("RESERVE_POLICY")),
		CriticalStockFactor:  factor,
		CustodyMaxDays:       maxDays,
		WorkerPollInterval:   getEnvDuration("WORKER_POLL_INTERVAL", time.Minute),
		OutboxBatchSize:      getEnvInt("OUTBOX_BATCH_SIZE", 100),
	}
}

// Address returns the HTTP listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the process runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// UseRedis reports whether a Redis address is configured.
func (c Config) UseRedis() bool {
	return c.RedisAddr != ""
}

// UseMemoryStore reports whether no database is configured.
func (c Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
