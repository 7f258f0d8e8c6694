package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the only wire schema version consumers accept.
const SchemaVersion = 1

type EventType string

const (
	FulfillmentRequestedEvent EventType = "order.fulfillment_requested"

	PaymentCompletedEvent EventType = "payment.completed"
	PaymentFailedEvent    EventType = "payment.failed"

	ShipmentShippedEvent EventType = "shipping.shipped"
)

const (
	OrderService    = "order-service"
	PaymentService  = "payment-service"
	ShippingService = "shipping-service"
)

// RoutingKey follows the saga.<service>.<event> convention used on the topic exchange.
func RoutingKey(service string, eventType EventType) string {
	return fmt.Sprintf("saga.%s.%s", service, eventType)
}

var (
	FulfillmentRequestedKey = RoutingKey(OrderService, FulfillmentRequestedEvent)
	PaymentCompletedKey     = RoutingKey(PaymentService, PaymentCompletedEvent)
	PaymentFailedKey        = RoutingKey(PaymentService, PaymentFailedEvent)
	ShipmentShippedKey      = RoutingKey(ShippingService, ShipmentShippedEvent)
)

// ErrMalformed marks a payload that can never be processed.
var ErrMalformed = errors.New("malformed event")

// Event is implemented by every message published on the exchange.
type Event interface {
	Type() EventType
	Source() string
	// OrderKey is the idempotency key shared by all consumers.
	OrderKey() int64
	Validate() error
}

// Amount is a decimal money value that travels as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '"' || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("amount must be a JSON number, got %s", b)
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Decimal = d
	return nil
}

type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice Amount `json:"unitPrice"`
}

// FulfillmentRequested is emitted once per committed order and fanned out to
// the payment and shipping queues.
type FulfillmentRequested struct {
	OrderID         int64                  `json:"orderId"`
	CustomerID      int64                  `json:"customerId"`
	TrackingNumber  string                 `json:"trackingNumber,omitempty"`
	Items           []LineItem             `json:"items"`
	TotalPrice      Amount                 `json:"totalPrice"`
	Status          types.OrderStatus      `json:"status"`
	PaymentMethod   string                 `json:"paymentMethod,omitempty"`
	ShippingAddress *types.ShippingAddress `json:"shippingAddress,omitempty"`
}

func (e FulfillmentRequested) Type() EventType { return FulfillmentRequestedEvent }
func (e FulfillmentRequested) Source() string  { return OrderService }
func (e FulfillmentRequested) OrderKey() int64 { return e.OrderID }

func (e FulfillmentRequested) Validate() error {
	if e.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformed)
	}
	if e.CustomerID <= 0 {
		return fmt.Errorf("%w: customerId must be positive", ErrMalformed)
	}
	if len(e.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrMalformed)
	}
	for i, item := range e.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrMalformed, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrMalformed, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrMalformed, i)
		}
	}
	if e.TotalPrice.IsNegative() {
		return fmt.Errorf("%w: totalPrice must not be negative", ErrMalformed)
	}
	if e.Status != types.OrderStatusPending {
		return fmt.Errorf("%w: unexpected status %q", ErrMalformed, e.Status)
	}
	return nil
}

// ResultStatus is the lower-case payment outcome carried on the result queue.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

func ResultStatusOf(s types.PaymentStatus) (ResultStatus, bool) {
	switch s {
	case types.PaymentStatusCompleted:
		return ResultCompleted, true
	case types.PaymentStatusFailed:
		return ResultFailed, true
	default:
		return "", false
	}
}

// PaymentResult reports the terminal outcome of one order's payment.
type PaymentResult struct {
	OrderID     int64        `json:"orderId"`
	PaymentID   string       `json:"paymentId"`
	Status      ResultStatus `json:"status"`
	Amount      Amount       `json:"amount"`
	ProcessedAt time.Time    `json:"processedAt"`
	Reason      string       `json:"reason,omitempty"`
}

func (e PaymentResult) Type() EventType {
	if e.Status == ResultFailed {
		return PaymentFailedEvent
	}
	return PaymentCompletedEvent
}

func (e PaymentResult) Source() string  { return PaymentService }
func (e PaymentResult) OrderKey() int64 { return e.OrderID }

func (e PaymentResult) Validate() error {
	if e.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformed)
	}
	if strings.TrimSpace(e.PaymentID) == "" {
		return fmt.Errorf("%w: paymentId is required", ErrMalformed)
	}
	if e.Status != ResultCompleted && e.Status != ResultFailed {
		return fmt.Errorf("%w: unexpected status %q", ErrMalformed, e.Status)
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrMalformed)
	}
	if e.ProcessedAt.IsZero() {
		return fmt.Errorf("%w: processedAt is required", ErrMalformed)
	}
	return nil
}

// ShipmentShipped is emitted when a shipment leaves the warehouse.
type ShipmentShipped struct {
	OrderID    int64     `json:"orderId"`
	ShipmentID int64     `json:"shipmentId"`
	ShippedAt  time.Time `json:"shippedAt"`
}

func (e ShipmentShipped) Type() EventType { return ShipmentShippedEvent }
func (e ShipmentShipped) Source() string  { return ShippingService }
func (e ShipmentShipped) OrderKey() int64 { return e.OrderID }

func (e ShipmentShipped) Validate() error {
	if e.OrderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", ErrMalformed)
	}
	if e.ShipmentID <= 0 {
		return fmt.Errorf("%w: shipmentId must be positive", ErrMalformed)
	}
	if e.ShippedAt.IsZero() {
		return fmt.Errorf("%w: shippedAt is required", ErrMalformed)
	}
	return nil
}

// Decode parses body into e and validates it. Any failure wraps ErrMalformed.
func Decode(body []byte, e Event) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
	}
	if err := json.Unmarshal(trimmed, e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e.Validate()
}

// CheckSchemaVersion rejects messages written for a schema this build does not know.
// A missing header (0) is read as the current version.
func CheckSchemaVersion(v int) error {
	if v == 0 || v == SchemaVersion {
		return nil
	}
	return fmt.Errorf("%w: unsupported schema version %d", ErrMalformed, v)
}
