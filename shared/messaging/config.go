package messaging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type RabbitMQConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	VHost              string
	Exchange           string
	DeadLetterExchange string
	RetryCount         int
	RetryDelay         time.Duration
	ConnectionTimeout  time.Duration
	PublishTimeout     time.Duration
}

func NewRabbitMQConfig() *RabbitMQConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("RABBITMQ_PORT", "5672"))
	retryCount, _ := strconv.Atoi(getEnvOrDefault("RABBITMQ_RETRY_COUNT", "3"))

	return &RabbitMQConfig{
		Host:               getEnvOrDefault("RABBITMQ_HOST", "localhost"),
		Port:               port,
		Username:           getEnvOrDefault("RABBITMQ_USERNAME", "guest"),
		Password:           getEnvOrDefault("RABBITMQ_PASSWORD", "guest"),
		VHost:              getEnvOrDefault("RABBITMQ_VHOST", "/"),
		Exchange:           getEnvOrDefault("RABBITMQ_EXCHANGE", "saga.events"),
		DeadLetterExchange: getEnvOrDefault("RABBITMQ_DLX", "saga.dlx"),
		RetryCount:         retryCount,
		RetryDelay:         time.Second * 5,
		ConnectionTimeout:  time.Second * 30,
		PublishTimeout:     time.Second * 5,
	}
}

func (c *RabbitMQConfig) ConnectionURL() string {
	vhost := c.VHost
	if vhost != "/" && !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Username, c.Password, c.Host, c.Port, vhost)
}

// ConsumerConfig describes one durable work queue and how it is drained.
type ConsumerConfig struct {
	Queue       string
	Name        string
	RoutingKeys []string
	Prefetch    int
	Concurrency int
	// MaxRetries caps transient failures before a message is dead-lettered.
	// Zero leaves retries to plain broker redelivery with no cap.
	MaxRetries int
	RetryDelay time.Duration
}

// NewConsumerConfig reads the WORKER_* settings shared by every consumer.
func NewConsumerConfig(queue, name string, routingKeys ...string) ConsumerConfig {
	prefetch, _ := strconv.Atoi(getEnvOrDefault("WORKER_PREFETCH", "1"))
	concurrency, _ := strconv.Atoi(getEnvOrDefault("WORKER_CONCURRENCY", "1"))
	maxRetries, _ := strconv.Atoi(getEnvOrDefault("WORKER_MAX_RETRIES", "5"))
	retryDelay, err := time.ParseDuration(getEnvOrDefault("WORKER_RETRY_DELAY", "2s"))
	if err != nil {
		retryDelay = 2 * time.Second
	}

	cfg := ConsumerConfig{
		Queue:       queue,
		Name:        name,
		RoutingKeys: routingKeys,
		Prefetch:    prefetch,
		Concurrency: concurrency,
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
	}
	return cfg.withDefaults()
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Prefetch < c.Concurrency {
		c.Prefetch = c.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Name == "" {
		c.Name = c.Queue
	}
	return c
}

// DeadLetterQueue is the parking queue for messages that can not be processed.
func (c ConsumerConfig) DeadLetterQueue() string {
	return c.Queue + ".dlq"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
