package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_NAME", "SHIPPING_FEE", "REDIS_ADDR", "ASYNQ_REDIS_ADDR", "SNOWFLAKE_NODE"} {
		t.Setenv(key, "")
	}

	cfg := Load("order-service", "8001", "order_db")

	assert.Equal(t, "8001", cfg.Port)
	assert.Equal(t, "order_db", cfg.Database.Name)
	assert.True(t, cfg.Order.ShippingFee.Equal(decimal.NewFromInt(30000)))
	assert.False(t, cfg.Order.CatalogCheck)
	assert.False(t, cfg.Redis.Enabled())
	assert.Nil(t, cfg.Redis.NewClient())
	assert.False(t, cfg.Sweeper.Enabled())
	assert.Equal(t, "@every 5m", cfg.Sweeper.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Sweeper.Grace)
	assert.Equal(t, int64(-1), cfg.Payment.SnowflakeNode)
	assert.Zero(t, cfg.Payment.FailureRate)
	assert.Equal(t, "saga.events", cfg.RabbitMQ.Exchange)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SHIPPING_FEE", "15000.50")
	t.Setenv("CATALOG_CHECK", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_LOCK_TTL", "5s")
	t.Setenv("PAYMENT_FAILURE_RATE", "0.25")
	t.Setenv("PAYMENT_DECLINE_ABOVE", "1000000")
	t.Setenv("DB_SSLMODE", "require")
	t.Setenv("LOG_LEVEL", "ERROR")

	cfg := Load("payment-service", "8002", "payment_db")

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Order.ShippingFee.Equal(decimal.RequireFromString("15000.5")))
	assert.True(t, cfg.Order.CatalogCheck)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 0.25, cfg.Payment.FailureRate)
	assert.True(t, cfg.Payment.DeclineAbove.Equal(decimal.NewFromInt(1000000)))
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Contains(t, cfg.Database.ConnectionString(), "sslmode=require")
	assert.Contains(t, cfg.Database.ConnectionString(), "dbname=payment_db")
}

func TestValidate(t *testing.T) {
	t.Setenv("SHIPPING_FEE", "")
	t.Setenv("PAYMENT_FAILURE_RATE", "")
	require.NoError(t, Load("order-service", "8001", "order_db").Validate())

	for name, env := range map[string][2]string{
		"sub-cent fee":       {"SHIPPING_FEE", "30000.005"},
		"negative fee":       {"SHIPPING_FEE", "-1"},
		"failure rate above": {"PAYMENT_FAILURE_RATE", "1.5"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			assert.Error(t, Load("order-service", "8001", "order_db").Validate())
		})
	}
}
