package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/server"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/handlers"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/repository"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/service"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load(events.ShippingService, "8003", "shipping_db")
	cfg.SetupLogging()
	logx.Must(cfg.Validate())
	logx.Info("Shipping Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logx.Must(err)
	}
	defer db.Close()

	shipmentRepo := repository.NewShipmentRepository(db)
	logx.Must(shipmentRepo.EnsureSchema(ctx))

	rabbitClient := messaging.NewRabbitMQClient(cfg.RabbitMQ)
	if err := rabbitClient.Connect(); err != nil {
		logx.Must(err)
	}
	defer rabbitClient.Close()

	publisher := messaging.NewPublisher(rabbitClient)
	defer publisher.Close()

	locker, closeLocker := server.NewLocker(cfg.Redis, "shipping:order:")
	defer closeLocker()

	shippingService := service.NewShippingService(shipmentRepo, publisher, locker)

	consumer := messaging.NewConsumer(rabbitClient, server.ShippingQueue())

	app, api := server.NewApp("Shipping Service v1.0")
	handlers.NewShippingHandler(shippingService).RegisterRoutes(api)
	server.Finish(app, api, cfg.ServiceName,
		server.DatabaseCheck(shipmentRepo),
		server.BrokerCheck(rabbitClient),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, shippingService.HandleDelivery)
	})
	g.Go(func() error {
		return server.Serve(gctx, app, cfg.Port)
	})

	if err := g.Wait(); err != nil {
		logx.Errorf("Shipping Service stopped with error: %v", err)
		os.Exit(1)
	}
	logx.Info("Shipping Service closed")
}
