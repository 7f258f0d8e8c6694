package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// DefaultPaymentMethod is used when the buyer does not choose one.
const DefaultPaymentMethod = "COD"

type OrderAggregate struct {
	ID                     int64                  `json:"id"`
	CustomerID             int64                  `json:"customer_id"`
	TrackingNumber         string                 `json:"tracking_number"`
	Items                  []types.OrderItem      `json:"items"`
	TotalQuantity          int                    `json:"total_quantity"`
	ShippingFee            decimal.Decimal        `json:"shipping_fee"`
	TotalPrice             decimal.Decimal        `json:"total_price"`
	Status                 types.OrderStatus      `json:"status"`
	ShippingAddress        types.ShippingAddress  `json:"shipping_address"`
	BillingAddress         *types.ShippingAddress `json:"billing_address,omitempty"`
	PaymentMethod          string                 `json:"payment_method"`
	FulfillmentPublishedAt *time.Time             `json:"fulfillment_published_at,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// NewOrderAggregate builds a PENDING order from a validated request. The total
// is always recomputed here; whatever total the client sent is ignored.
func NewOrderAggregate(request CreateOrderRequest, shippingFee decimal.Decimal, now time.Time) *OrderAggregate {
	items := request.ToOrderItems()

	subtotal := decimal.Zero
	quantity := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.Extension())
		quantity += item.Quantity
	}

	paymentMethod := strings.ToUpper(strings.TrimSpace(request.PaymentMethod))
	if paymentMethod == "" {
		paymentMethod = DefaultPaymentMethod
	}

	return &OrderAggregate{
		CustomerID:      request.CustomerID,
		TrackingNumber:  NewTrackingNumber(now),
		Items:           items,
		TotalQuantity:   quantity,
		ShippingFee:     shippingFee,
		TotalPrice:      subtotal.Add(shippingFee),
		Status:          types.OrderStatusPending,
		ShippingAddress: request.ShippingAddress.ToShippingAddress(),
		BillingAddress:  request.BillingAddress.toOptionalAddress(),
		PaymentMethod:   paymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewTrackingNumber derives a human readable, practically unique number from
// the creation time and a random suffix.
func NewTrackingNumber(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}

// FulfillmentEvent snapshots the committed order for the payment and shipping workers.
func (o *OrderAggregate) FulfillmentEvent() events.FulfillmentRequested {
	items := make([]events.LineItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = events.LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: events.NewAmount(item.UnitPrice),
		}
	}

	address := o.ShippingAddress
	return events.FulfillmentRequested{
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		TrackingNumber:  o.TrackingNumber,
		Items:           items,
		TotalPrice:      events.NewAmount(o.TotalPrice),
		Status:          types.OrderStatusPending,
		PaymentMethod:   o.PaymentMethod,
		ShippingAddress: &address,
	}
}

// Subtotal is the sum of the line extensions.
func (o *OrderAggregate) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.Extension())
	}
	return subtotal
}
