// Package server holds the process wiring shared by the three service binaries.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/idempotency"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/zeromicro/go-zero/core/logx"
)

const shutdownTimeout = 10 * time.Second

// NewApp builds the Fiber app with the common middlewares. Routes go on the
// returned /api/v1 group; call Finish once every route is registered.
func NewApp(appName string) (*fiber.App, fiber.Router) {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		ErrorHandler:          sharedHTTP.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	return app, app.Group("/api/v1")
}

// Finish mounts the health endpoint and the catch-all 404.
func Finish(app *fiber.App, api fiber.Router, service string, checks ...sharedHTTP.HealthCheck) {
	api.Get("/health", sharedHTTP.HealthHandler(service, checks...))
	app.Use(sharedHTTP.NotFoundRoute)
}

// Serve listens on port until ctx is done, then drains in-flight requests.
func Serve(ctx context.Context, app *fiber.App, port string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + port)
	}()
	logx.Infof("HTTP server listening on :%s", port)

	select {
	case err := <-errCh:
		return fmt.Errorf("server start error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	logx.Info("HTTP server stopped")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func DatabaseCheck(db pinger) sharedHTTP.HealthCheck {
	return sharedHTTP.HealthCheck{Name: "database", Check: db.Ping}
}

func BrokerCheck(client *messaging.RabbitMQClient) sharedHTTP.HealthCheck {
	return sharedHTTP.HealthCheck{
		Name: "rabbitmq",
		Check: func(context.Context) error {
			if !client.IsConnected() {
				return messaging.ErrNotConnected
			}
			return nil
		},
	}
}

// NewLocker returns the in-process lock, chained with the Redis lock when
// Redis is configured. The returned func closes the Redis client.
func NewLocker(cfg config.RedisConfig, prefix string) (idempotency.Locker, func()) {
	local := idempotency.NewKeyedMutex()

	client := cfg.NewClient()
	if client == nil {
		return local, func() {}
	}

	logx.Infof("Redis order lock enabled: %s", cfg.Addr)
	return idempotency.Chain{local, idempotency.NewRedisLocker(client, prefix, cfg.LockTTL)}, func() {
		if err := client.Close(); err != nil {
			logx.Errorf("Redis close error: %v", err)
		}
	}
}
