package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/handlers"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/repository"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/service"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/sweeper"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/server"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load(events.OrderService, "8001", "order_db")
	cfg.SetupLogging()
	logx.Must(cfg.Validate())
	logx.Info("Order Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logx.Must(err)
	}
	defer db.Close()

	orderRepo := repository.NewOrderRepository(db)
	logx.Must(orderRepo.EnsureSchema(ctx))

	rabbitClient := messaging.NewRabbitMQClient(cfg.RabbitMQ)
	if err := rabbitClient.Connect(); err != nil {
		logx.Must(err)
	}
	defer rabbitClient.Close()

	publisher := messaging.NewPublisher(rabbitClient)
	defer publisher.Close()

	var catalog service.ProductCatalog
	if cfg.Order.CatalogCheck {
		catalog = repository.NewCatalogRepository(db)
	}

	orderService := service.NewOrderService(orderRepo, publisher, catalog, cfg.Order.ShippingFee)
	if cfg.Sweeper.Enabled() {
		orderService.EnableBackgroundRepublish()
	}
	reconciler := service.NewReconciler(orderRepo)

	consumer := messaging.NewConsumer(rabbitClient, server.OrderQueue())

	app, api := server.NewApp("Order Service v1.0")
	handlers.NewOrderHandler(orderService).RegisterRoutes(api)
	server.Finish(app, api, cfg.ServiceName,
		server.DatabaseCheck(orderRepo),
		server.BrokerCheck(rabbitClient),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, reconciler.HandleDelivery)
	})
	g.Go(func() error {
		return server.Serve(gctx, app, cfg.Port)
	})

	if cfg.Sweeper.Enabled() {
		orderSweeper, err := sweeper.New(cfg.Sweeper, orderService)
		if err != nil {
			logx.Must(err)
		}
		g.Go(func() error {
			return orderSweeper.Run(gctx)
		})
	} else {
		logx.Info("Order sweeper disabled: ASYNQ_REDIS_ADDR is not set")
	}

	if err := g.Wait(); err != nil {
		logx.Errorf("Order Service stopped with error: %v", err)
		os.Exit(1)
	}
	logx.Info("Order Service closed")
}
