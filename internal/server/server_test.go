package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/idempotency"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestAppHealthAndNotFound(t *testing.T) {
	app, api := NewApp("test")
	api.Get("/ping", func(c *fiber.Ctx) error { return sharedHTTP.SuccessResponse(c, "pong", nil) })
	Finish(app, api, "test-service",
		DatabaseCheck(pingFunc(func(context.Context) error { return nil })),
		BrokerCheck(messaging.NewRabbitMQClient(messaging.NewRabbitMQConfig())),
	)

	res, err := app.Test(httptest.NewRequest("GET", "/api/v1/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, res.StatusCode)

	res, err = app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, res.StatusCode)
	var env sharedHTTP.APIResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "ok", env.Error.Details["database"])
	assert.Equal(t, messaging.ErrNotConnected.Error(), env.Error.Details["rabbitmq"])

	res, err = app.Test(httptest.NewRequest("GET", "/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
}

func TestServeStopsWithContext(t *testing.T) {
	app, api := NewApp("test")
	Finish(app, api, "test-service")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, app, "0") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewLockerWithoutRedis(t *testing.T) {
	locker, closeFn := NewLocker(config.RedisConfig{}, "payment:")
	defer closeFn()

	_, ok := locker.(*idempotency.KeyedMutex)
	assert.True(t, ok)
}

func TestNewLockerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	locker, closeFn := NewLocker(config.RedisConfig{Addr: mr.Addr(), LockTTL: time.Minute}, "payment:")
	defer closeFn()

	release, err := locker.Acquire(context.Background(), "41")
	require.NoError(t, err)
	assert.True(t, mr.Exists("payment:41"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "41")
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, idempotency.ErrLocked))

	release()
	assert.False(t, mr.Exists("payment:41"))
}
