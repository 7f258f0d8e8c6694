package server

import (
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
)

// Queue names. Each service owns exactly one durable queue on the saga exchange.
const (
	OrderQueueName    = "order-service-queue"
	PaymentQueueName  = "payment-service-queue"
	ShippingQueueName = "shipping-service-queue"
)

// OrderQueue receives every outcome the reconciler applies to an order.
func OrderQueue() messaging.ConsumerConfig {
	return messaging.NewConsumerConfig(OrderQueueName, "order-reconciler",
		events.PaymentCompletedKey,
		events.PaymentFailedKey,
		events.ShipmentShippedKey,
	)
}

// PaymentQueue and ShippingQueue both bind the fulfillment request so the two
// workers run in parallel on their own copy of each message.
func PaymentQueue() messaging.ConsumerConfig {
	return messaging.NewConsumerConfig(PaymentQueueName, "payment-worker", events.FulfillmentRequestedKey)
}

func ShippingQueue() messaging.ConsumerConfig {
	return messaging.NewConsumerConfig(ShippingQueueName, "shipping-worker", events.FulfillmentRequestedKey)
}
