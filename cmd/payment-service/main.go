package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/gateway"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/handlers"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/repository"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/service"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/server"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load(events.PaymentService, "8002", "payment_db")
	cfg.SetupLogging()
	logx.Must(cfg.Validate())
	logx.Info("Payment Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logx.Must(err)
	}
	defer db.Close()

	paymentRepo := repository.NewPaymentRepository(db)
	logx.Must(paymentRepo.EnsureSchema(ctx))

	rabbitClient := messaging.NewRabbitMQClient(cfg.RabbitMQ)
	if err := rabbitClient.Connect(); err != nil {
		logx.Must(err)
	}
	defer rabbitClient.Close()

	publisher := messaging.NewPublisher(rabbitClient)
	defer publisher.Close()

	ids, err := domain.NewIDGenerator(cfg.Payment.SnowflakeNode)
	if err != nil {
		logx.Must(err)
	}

	locker, closeLocker := server.NewLocker(cfg.Redis, "payment:order:")
	defer closeLocker()

	paymentGateway := gateway.NewMockPaymentGateway(cfg.Payment.FailureRate, cfg.Payment.DeclineAbove)
	paymentService := service.NewPaymentService(paymentRepo, paymentGateway, publisher, locker, ids, cfg.Payment.Provider)

	consumer := messaging.NewConsumer(rabbitClient, server.PaymentQueue())

	app, api := server.NewApp("Payment Service v1.0")
	handlers.NewPaymentHandler(paymentService).RegisterRoutes(api)
	server.Finish(app, api, cfg.ServiceName,
		server.DatabaseCheck(paymentRepo),
		server.BrokerCheck(rabbitClient),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, paymentService.HandleDelivery)
	})
	g.Go(func() error {
		return server.Serve(gctx, app, cfg.Port)
	})

	if err := g.Wait(); err != nil {
		logx.Errorf("Payment Service stopped with error: %v", err)
		os.Exit(1)
	}
	logx.Info("Payment Service closed")
}
