// Package config loads the environment driven settings shared by the services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
)

type Config struct {
	ServiceName string
	Port        string
	Database    DatabaseConfig
	RabbitMQ    *messaging.RabbitMQConfig
	Redis       RedisConfig
	Sweeper     SweeperConfig
	Order       OrderConfig
	Payment     PaymentConfig
	Log         logx.LogConf
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
}

// RedisConfig enables the cross-instance order lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// SweeperConfig enables the orphaned order sweeper when AsynqAddr is set.
type SweeperConfig struct {
	AsynqAddr string
	Interval  string
	Grace     time.Duration
	Batch     int
}

type OrderConfig struct {
	ShippingFee  decimal.Decimal
	CatalogCheck bool
}

type PaymentConfig struct {
	Provider     string
	FailureRate  float64
	DeclineAbove decimal.Decimal
	// SnowflakeNode is -1 when the node id should be derived from the hostname.
	SnowflakeNode int64
}

// Load reads the configuration for one service. defaultPort and defaultDB
// differ per service so the three processes can share a host.
func Load(serviceName, defaultPort, defaultDB string) *Config {
	return &Config{
		ServiceName: serviceName,
		Port:        getEnvOrDefault("PORT", defaultPort),
		Database: DatabaseConfig{
			Host:         getEnvOrDefault("DB_HOST", "localhost"),
			Port:         getEnvOrDefault("DB_PORT", "5432"),
			User:         getEnvOrDefault("DB_USER", "postgres"),
			Password:     getEnvOrDefault("DB_PASSWORD", "postgres"),
			Name:         getEnvOrDefault("DB_NAME", defaultDB),
			SSLMode:      getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns: getIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		},
		RabbitMQ: messaging.NewRabbitMQConfig(),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getIntOrDefault("REDIS_DB", 0),
			LockTTL:  getDurationOrDefault("REDIS_LOCK_TTL", 30*time.Second),
		},
		Sweeper: SweeperConfig{
			AsynqAddr: os.Getenv("ASYNQ_REDIS_ADDR"),
			Interval:  getEnvOrDefault("SWEEP_INTERVAL", "@every 5m"),
			Grace:     getDurationOrDefault("SWEEP_GRACE", 2*time.Minute),
			Batch:     getIntOrDefault("SWEEP_BATCH", 100),
		},
		Order: OrderConfig{
			ShippingFee:  getDecimalOrDefault("SHIPPING_FEE", decimal.NewFromInt(30000)),
			CatalogCheck: getBoolOrDefault("CATALOG_CHECK", false),
		},
		Payment: PaymentConfig{
			Provider:      getEnvOrDefault("PAYMENT_PROVIDER", "mock"),
			FailureRate:   getFloatOrDefault("PAYMENT_FAILURE_RATE", 0),
			DeclineAbove:  getDecimalOrDefault("PAYMENT_DECLINE_ABOVE", decimal.Zero),
			SnowflakeNode: int64(getIntOrDefault("SNOWFLAKE_NODE", -1)),
		},
		Log: logx.LogConf{
			ServiceName: serviceName,
			Mode:        "console",
			Encoding:    getEnvOrDefault("LOG_ENCODING", "plain"),
			Level:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		},
	}
}

// Validate rejects settings the services can not run with.
func (c *Config) Validate() error {
	fee := c.Order.ShippingFee
	if fee.IsNegative() {
		return fmt.Errorf("SHIPPING_FEE must not be negative, got %s", fee)
	}
	if !types.ExactMoney(fee) {
		return fmt.Errorf("SHIPPING_FEE allows at most %d decimals, got %s", types.MoneyScale, fee)
	}
	if c.Payment.FailureRate < 0 || c.Payment.FailureRate > 1 {
		return fmt.Errorf("PAYMENT_FAILURE_RATE must be within 0..1, got %v", c.Payment.FailureRate)
	}
	return nil
}

// SetupLogging installs the process wide logx writer.
func (c *Config) SetupLogging() {
	logx.MustSetup(c.Log)
	logx.DisableStat()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}

func getDecimalOrDefault(key string, defaultValue decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}
