package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, QueueDriverRabbitMQ, cfg.QueueDriver)
	assert.Equal(t, "document-conversion-exchange", cfg.Exchange)
	assert.Equal(t, "document-conversion-queue", cfg.Queue)
	assert.Equal(t, "document.conversion", cfg.RoutingKey)
	assert.Equal(t, 10, cfg.RateLimitCapacity)
	assert.Equal(t, 10, cfg.RateLimitRefillTokens)
	assert.Equal(t, time.Minute, cfg.RateLimitRefillInterval)
	assert.Equal(t, 120*time.Second, cfg.ConversionTimeout)
	assert.Equal(t, "conversion:pending", cfg.PendingQueue)
	require.NoError(t, cfg.Validate())
}

func TestConfig_DeadLetterTriple(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "document-conversion-exchange.dlx", cfg.DeadLetterExchange())
	assert.Equal(t, "document-conversion-queue.dlq", cfg.DeadLetterQueue())
	assert.Equal(t, "document.conversion.dlq", cfg.DeadLetterRoutingKey())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "Redis")
	t.Setenv("REDIS_PREFIX", "app:")
	t.Setenv("CONVERSION_TIMEOUT", "45")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "30s")
	t.Setenv("S3_USE_PATH_STYLE_ENDPOINT", "yes")
	t.Setenv("CONVERSION_WORKER_COUNT", "not-a-number")

	cfg := Load()

	assert.Equal(t, QueueDriverRedis, cfg.QueueDriver)
	assert.Equal(t, "app:conversion:pending", cfg.PendingQueue)
	assert.Equal(t, "app:conversion:failed", cfg.FailedQueue)
	assert.Equal(t, 45*time.Second, cfg.ConversionTimeout)
	assert.Equal(t, 30*time.Second, cfg.RateLimitRefillInterval)
	assert.True(t, cfg.S3UsePathStyle)
	assert.Equal(t, 3, cfg.WorkerCount)
}

func TestLoad_DatabaseURL(t *testing.T) {
	t.Setenv("DB_PASSWORD", "p@ss word")
	t.Setenv("DB_SSLROOTCERT", "/certs/root.pem")

	cfg := Load()

	assert.True(t, strings.Contains(cfg.DatabaseURL, "password=p@ss word"))
	assert.True(t, strings.HasSuffix(cfg.DatabaseURL, " sslrootcert=/certs/root.pem"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown queue driver", mutate: func(c *Config) { c.QueueDriver = "kafka" }},
		{name: "unknown storage driver", mutate: func(c *Config) { c.StorageDriver = "ftp" }},
		{name: "no workers", mutate: func(c *Config) { c.WorkerCount = 0 }},
		{name: "no deliveries", mutate: func(c *Config) { c.MaxDeliveries = 0 }},
		{name: "zero capacity", mutate: func(c *Config) { c.RateLimitCapacity = 0 }},
		{name: "no roles", mutate: func(c *Config) { c.RunAPI, c.RunWorker = false, false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
