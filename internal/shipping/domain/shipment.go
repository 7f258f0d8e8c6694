package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrMissingAddress   = errors.New("shipping address is missing or incomplete")
)

type ShipmentItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ShipmentAggregate struct {
	ID             int64                 `json:"id"`
	OrderID        int64                 `json:"order_id"`
	CustomerID     int64                 `json:"customer_id"`
	TrackingNumber string                `json:"tracking_number"`
	Address        types.ShippingAddress `json:"address"`
	Items          []ShipmentItem        `json:"items"`
	Status         types.ShippingStatus  `json:"status"`
	ShippedAt      *time.Time            `json:"shipped_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// NewShipmentAggregate snapshots the destination and the line items of a
// fulfillment request as a PENDING shipment.
func NewShipmentAggregate(request events.FulfillmentRequested, now time.Time) (*ShipmentAggregate, error) {
	if request.ShippingAddress == nil || !request.ShippingAddress.Complete() {
		return nil, fmt.Errorf("%w: order %d", ErrMissingAddress, request.OrderID)
	}

	items := make([]ShipmentItem, len(request.Items))
	for i, item := range request.Items {
		items[i] = ShipmentItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	return &ShipmentAggregate{
		OrderID:        request.OrderID,
		CustomerID:     request.CustomerID,
		TrackingNumber: trackingNumber(request),
		Address:        request.ShippingAddress.Normalize(),
		Items:          items,
		Status:         types.ShippingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *ShipmentAggregate) Shipped() bool {
	return s.Status == types.ShippingStatusShipped
}

func (s *ShipmentAggregate) Ship(at time.Time) {
	s.Status = types.ShippingStatusShipped
	s.ShippedAt = &at
	s.UpdatedAt = at
}

func (s *ShipmentAggregate) ShippedEvent() (events.ShipmentShipped, error) {
	if !s.Shipped() || s.ShippedAt == nil {
		return events.ShipmentShipped{}, fmt.Errorf("shipment %d has not shipped", s.ID)
	}
	return events.ShipmentShipped{
		OrderID:    s.OrderID,
		ShipmentID: s.ID,
		ShippedAt:  s.ShippedAt.UTC(),
	}, nil
}

func trackingNumber(request events.FulfillmentRequested) string {
	if request.TrackingNumber != "" {
		return "TRK_" + request.TrackingNumber
	}
	return fmt.Sprintf("TRK_%d", request.OrderID)
}
