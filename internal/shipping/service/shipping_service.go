package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/idempotency"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/zeromicro/go-zero/core/logx"
)

type ShipmentStore interface {
	InsertIfAbsent(ctx context.Context, shipment *domain.ShipmentAggregate) (bool, error)
	GetShipmentByOrderID(ctx context.Context, orderID int64) (*domain.ShipmentAggregate, error)
	MarkShipped(ctx context.Context, orderID int64, at time.Time) (bool, error)
}

type ShippingService struct {
	shipmentRepo ShipmentStore
	publisher    messaging.EventPublisher
	locker       idempotency.Locker
	now          func() time.Time
}

func NewShippingService(shipmentRepo ShipmentStore, publisher messaging.EventPublisher, locker idempotency.Locker) *ShippingService {
	return &ShippingService{
		shipmentRepo: shipmentRepo,
		publisher:    publisher,
		locker:       locker,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HandleDelivery is the messaging.Handler for the shipping service queue.
func (s *ShippingService) HandleDelivery(ctx context.Context, d messaging.Delivery) error {
	if err := events.CheckSchemaVersion(d.SchemaVersion); err != nil {
		return err
	}

	var request events.FulfillmentRequested
	if err := events.Decode(d.Body, &request); err != nil {
		return err
	}
	return s.PrepareShipment(ctx, request)
}

// PrepareShipment records a PENDING shipment for the order unless one exists.
func (s *ShippingService) PrepareShipment(ctx context.Context, request events.FulfillmentRequested) error {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, strconv.FormatInt(request.OrderID, 10))
		if err != nil {
			return fmt.Errorf("shipment lock error: %w", err)
		}
		defer release()
	}

	logger := logx.WithContext(ctx).WithFields(logx.Field("order_id", request.OrderID))

	existing, err := s.shipmentRepo.GetShipmentByOrderID(ctx, request.OrderID)
	switch {
	case err == nil:
		logger.Infof("Duplicate fulfillment event, shipment %d already exists", existing.ID)
		return nil
	case !errors.Is(err, domain.ErrShipmentNotFound):
		return err
	}

	shipment, err := domain.NewShipmentAggregate(request, s.now())
	if err != nil {
		return messaging.Permanent(err)
	}

	inserted, err := s.shipmentRepo.InsertIfAbsent(ctx, shipment)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Info("Shipment created concurrently by another consumer")
		return nil
	}

	logger.Infow("Shipment prepared",
		logx.Field("shipment_id", shipment.ID),
		logx.Field("tracking_number", shipment.TrackingNumber))
	return nil
}

// ShipOrder marks the shipment of an order as SHIPPED and announces it. Calling
// it again for a shipped order re-sends the event.
func (s *ShippingService) ShipOrder(ctx context.Context, orderID int64) (*domain.ShipmentAggregate, error) {
	at := s.now()
	if _, err := s.shipmentRepo.MarkShipped(ctx, orderID, at); err != nil {
		return nil, err
	}

	shipment, err := s.shipmentRepo.GetShipmentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	event, err := shipment.ShippedEvent()
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return shipment, fmt.Errorf("shipment event publish error: %w", err)
	}

	logx.WithContext(ctx).Infof("Shipment shipped: OrderID=%d, ShipmentID=%d", orderID, shipment.ID)
	return shipment, nil
}

func (s *ShippingService) GetShipmentByOrderID(ctx context.Context, orderID int64) (*domain.ShipmentAggregate, error) {
	return s.shipmentRepo.GetShipmentByOrderID(ctx, orderID)
}
