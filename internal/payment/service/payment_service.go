package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/gateway"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/idempotency"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/zeromicro/go-zero/core/logx"
)

type PaymentStore interface {
	FindTerminalByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error)
	InsertTerminal(ctx context.Context, payment *domain.PaymentAggregate) (bool, error)
	MarkResultPublished(ctx context.Context, paymentID string, at time.Time) error
	GetPaymentByID(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error)
}

type PaymentService struct {
	paymentRepo    PaymentStore
	paymentGateway gateway.PaymentGateway
	publisher      messaging.EventPublisher
	locker         idempotency.Locker
	ids            *domain.IDGenerator
	provider       string
	now            func() time.Time
}

func NewPaymentService(
	paymentRepo PaymentStore,
	paymentGateway gateway.PaymentGateway,
	publisher messaging.EventPublisher,
	locker idempotency.Locker,
	ids *domain.IDGenerator,
	provider string,
) *PaymentService {
	return &PaymentService{
		paymentRepo:    paymentRepo,
		paymentGateway: paymentGateway,
		publisher:      publisher,
		locker:         locker,
		ids:            ids,
		provider:       provider,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HandleDelivery is the messaging.Handler for the payment service queue.
func (s *PaymentService) HandleDelivery(ctx context.Context, d messaging.Delivery) error {
	if err := events.CheckSchemaVersion(d.SchemaVersion); err != nil {
		return err
	}

	var request events.FulfillmentRequested
	if err := events.Decode(d.Body, &request); err != nil {
		return err
	}
	return s.ProcessFulfillment(ctx, request)
}

// ProcessFulfillment settles the payment of one order exactly once. Duplicate
// deliveries only re-send a result that was recorded but never published.
func (s *PaymentService) ProcessFulfillment(ctx context.Context, request events.FulfillmentRequested) error {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, strconv.FormatInt(request.OrderID, 10))
		if err != nil {
			return fmt.Errorf("payment lock error: %w", err)
		}
		defer release()
	}

	logger := logx.WithContext(ctx).WithFields(logx.Field("order_id", request.OrderID))

	existing, err := s.paymentRepo.FindTerminalByOrderID(ctx, request.OrderID)
	switch {
	case err == nil:
		logger.Infof("Duplicate fulfillment event, payment %s already %s", existing.ID, existing.Status)
		return s.ensureResultPublished(ctx, existing)
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return err
	}

	payment := domain.NewPaymentAggregate(
		s.ids.NewPaymentID(),
		request.OrderID,
		request.TotalPrice.Decimal,
		request.PaymentMethod,
		s.provider,
		s.now(),
	)

	response, err := s.paymentGateway.Authorize(ctx, gateway.PaymentRequest{
		PaymentID:     payment.ID,
		OrderID:       request.OrderID,
		CustomerID:    request.CustomerID,
		Amount:        payment.Amount,
		PaymentMethod: payment.Method,
	})
	if err != nil {
		return fmt.Errorf("payment gateway error: %w", err)
	}

	if response.Success {
		payment.Complete(response.TransactionID, s.now())
	} else {
		payment.Fail(response.FailureReason, s.now())
	}

	inserted, err := s.paymentRepo.InsertTerminal(ctx, payment)
	if err != nil {
		return err
	}
	if !inserted {
		// another instance settled this order between our check and insert
		winner, err := s.paymentRepo.FindTerminalByOrderID(ctx, request.OrderID)
		if err != nil {
			return fmt.Errorf("payment conflict re-read error: %w", err)
		}
		logger.Infof("Payment %s lost the race to %s", payment.ID, winner.ID)
		return s.ensureResultPublished(ctx, winner)
	}

	logger.Infow("Payment recorded",
		logx.Field("payment_id", payment.ID),
		logx.Field("status", payment.Status),
		logx.Field("amount", payment.Amount.String()))

	return s.publishResult(ctx, payment)
}

func (s *PaymentService) ensureResultPublished(ctx context.Context, payment *domain.PaymentAggregate) error {
	if payment.ResultPublished() {
		return nil
	}
	return s.publishResult(ctx, payment)
}

func (s *PaymentService) publishResult(ctx context.Context, payment *domain.PaymentAggregate) error {
	result, err := payment.ResultEvent()
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, result); err != nil {
		return fmt.Errorf("payment result publish error: %w", err)
	}

	if err := s.paymentRepo.MarkResultPublished(ctx, payment.ID, s.now()); err != nil {
		// a redelivery may publish the result again; the reconciler ignores duplicates
		logx.WithContext(ctx).Errorf("Payment publish stamp error: PaymentID=%s, %v", payment.ID, err)
	}
	return nil
}

func (s *PaymentService) GetPaymentByID(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	return s.paymentRepo.GetPaymentByID(ctx, paymentID)
}

func (s *PaymentService) GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error) {
	return s.paymentRepo.GetPaymentByOrderID(ctx, orderID)
}
