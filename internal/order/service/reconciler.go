package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/zeromicro/go-zero/core/logx"
)

// Reconciler applies payment and shipment outcomes to order status.
type Reconciler struct {
	orderRepo OrderStore
}

func NewReconciler(orderRepo OrderStore) *Reconciler {
	return &Reconciler{orderRepo: orderRepo}
}

// HandleDelivery is the messaging.Handler for the order service queue.
func (r *Reconciler) HandleDelivery(ctx context.Context, d messaging.Delivery) error {
	if err := events.CheckSchemaVersion(d.SchemaVersion); err != nil {
		return err
	}

	switch events.EventType(d.Type) {
	case events.PaymentCompletedEvent, events.PaymentFailedEvent:
		var result events.PaymentResult
		if err := events.Decode(d.Body, &result); err != nil {
			return err
		}
		if result.Type() != events.EventType(d.Type) {
			return messaging.Permanent(fmt.Errorf("message type %s does not match status %s", d.Type, result.Status))
		}
		return r.ApplyPaymentResult(ctx, result)

	case events.ShipmentShippedEvent:
		var shipped events.ShipmentShipped
		if err := events.Decode(d.Body, &shipped); err != nil {
			return err
		}
		return r.ApplyShipmentShipped(ctx, shipped)

	default:
		return messaging.Permanent(fmt.Errorf("unexpected event type %q", d.Type))
	}
}

func (r *Reconciler) ApplyPaymentResult(ctx context.Context, result events.PaymentResult) error {
	target := types.OrderStatusPaid
	if result.Status == events.ResultFailed {
		target = types.OrderStatusPaymentFailed
	}
	return r.transition(ctx, result.OrderID, target, logx.Field("payment_id", result.PaymentID))
}

func (r *Reconciler) ApplyShipmentShipped(ctx context.Context, shipped events.ShipmentShipped) error {
	return r.transition(ctx, shipped.OrderID, types.OrderStatusShipped, logx.Field("shipment_id", shipped.ShipmentID))
}

func (r *Reconciler) transition(ctx context.Context, orderID int64, target types.OrderStatus, cause logx.LogField) error {
	logger := logx.WithContext(ctx).WithFields(
		logx.Field("order_id", orderID),
		logx.Field("target", target),
		cause,
	)

	changed, err := r.orderRepo.TransitionStatus(ctx, orderID, target, domain.AllowedFrom(target))
	if err != nil {
		return err
	}
	if changed {
		logger.Infof("Order status updated to %s", target)
		return nil
	}

	current, err := r.orderRepo.GetOrderStatus(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// the result overtook the order row; retry until it is visible
			return messaging.NotReady(fmt.Errorf("order %d is not visible yet: %w", orderID, err))
		}
		return err
	}

	switch outcome := domain.ClassifyUnapplied(current, target); outcome {
	case domain.OutcomeAlreadyApplied:
		logger.Infof("Duplicate status event ignored, order is %s", current)
		return nil
	case domain.OutcomeConflict:
		logger.Errorf("%v: order is %s, refusing %s", domain.ErrIllegalTransition, current, target)
		return nil
	default:
		// a shipment can leave before the payment outcome lands; wait for it
		return messaging.NotReady(fmt.Errorf("order %d is %s, not ready for %s", orderID, current, target))
	}
}
