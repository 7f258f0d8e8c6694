package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/messaging"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
)

// PublishWarning is returned to the caller when the order was stored but its
// fulfillment event could not be handed to the broker. SweptPublishWarning
// replaces it once a sweeper republishes such orders.
const (
	PublishWarning      = "order saved but fulfillment could not be started; it stays PENDING until it is republished"
	SweptPublishWarning = "order saved but fulfillment is delayed; it will be retried in the background"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.OrderAggregate) error
	GetOrderByID(ctx context.Context, orderID int64) (*domain.OrderAggregate, error)
	GetOrdersByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*domain.OrderAggregate, error)
	GetUnpublishedOrders(ctx context.Context, cutoff time.Time, limit int) ([]*domain.OrderAggregate, error)
	MarkFulfillmentPublished(ctx context.Context, orderID int64, at time.Time) error
	TransitionStatus(ctx context.Context, orderID int64, target types.OrderStatus, from []types.OrderStatus) (bool, error)
	GetOrderStatus(ctx context.Context, orderID int64) (types.OrderStatus, error)
}

// ProductCatalog resolves product references; optional.
type ProductCatalog interface {
	MissingProducts(ctx context.Context, productIDs []string) ([]string, error)
}

type OrderService struct {
	orderRepo   OrderStore
	publisher   messaging.EventPublisher
	catalog     ProductCatalog
	shippingFee decimal.Decimal
	swept       bool
	now         func() time.Time
}

func NewOrderService(orderRepo OrderStore, publisher messaging.EventPublisher, catalog ProductCatalog, shippingFee decimal.Decimal) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		publisher:   publisher,
		catalog:     catalog,
		shippingFee: shippingFee,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// EnableBackgroundRepublish records that a sweeper runs RepublishUnpublished,
// so publish warnings can promise a retry.
func (s *OrderService) EnableBackgroundRepublish() {
	s.swept = true
}

func (s *OrderService) publishWarning() string {
	if s.swept {
		return SweptPublishWarning
	}
	return PublishWarning
}

type CreateOrderResult struct {
	Order *domain.OrderAggregate
	// Warning is set when the order is committed but not yet published.
	Warning string
}

// CreateOrder validates, stores and announces a new order. Only validation and
// storage failures fail the call; a publish failure leaves the order PENDING
// and is reported as a warning.
func (s *OrderService) CreateOrder(ctx context.Context, request domain.CreateOrderRequest) (*CreateOrderResult, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	if s.catalog != nil {
		missing, err := s.catalog.MissingProducts(ctx, request.ProductIDs())
		if err != nil {
			return nil, fmt.Errorf("catalog check error: %w", err)
		}
		if len(missing) > 0 {
			return nil, &domain.ValidationError{
				Field:  "items",
				Reason: "unknown products: " + strings.Join(missing, ", "),
			}
		}
	}

	order := domain.NewOrderAggregate(request, s.shippingFee, s.now())

	if err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("order creation error: %w", err)
	}

	logger := logx.WithContext(ctx)
	logger.Infow("Order created",
		logx.Field("order_id", order.ID),
		logx.Field("customer_id", order.CustomerID),
		logx.Field("tracking_number", order.TrackingNumber),
		logx.Field("total_price", order.TotalPrice.String()))

	result := &CreateOrderResult{Order: order}
	if err := s.publishFulfillment(ctx, order); err != nil {
		logger.Errorw("Fulfillment event publish error",
			logx.Field("order_id", order.ID),
			logx.Field("error", err.Error()))
		result.Warning = s.publishWarning()
	}

	return result, nil
}

func (s *OrderService) publishFulfillment(ctx context.Context, order *domain.OrderAggregate) error {
	if err := s.publisher.Publish(ctx, order.FulfillmentEvent()); err != nil {
		return err
	}

	at := s.now()
	if err := s.orderRepo.MarkFulfillmentPublished(ctx, order.ID, at); err != nil {
		// the event is out; the sweeper may publish a harmless duplicate
		logx.WithContext(ctx).Errorf("Order publish stamp error: OrderID=%d, %v", order.ID, err)
		return nil
	}
	order.FulfillmentPublishedAt = &at
	return nil
}

// RepublishUnpublished re-announces PENDING orders older than grace that never
// reached the broker. It returns how many were published.
func (s *OrderService) RepublishUnpublished(ctx context.Context, grace time.Duration, batch int) (int, error) {
	orders, err := s.orderRepo.GetUnpublishedOrders(ctx, s.now().Add(-grace), batch)
	if err != nil {
		return 0, err
	}

	published := 0
	var errs []error
	for _, order := range orders {
		if err := s.publishFulfillment(ctx, order); err != nil {
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		published++
	}

	if published > 0 || len(errs) > 0 {
		logx.WithContext(ctx).Infow("Unpublished orders swept",
			logx.Field("found", len(orders)),
			logx.Field("published", published),
			logx.Field("failed", len(errs)))
	}
	return published, errors.Join(errs...)
}

func (s *OrderService) GetOrderByID(ctx context.Context, orderID int64) (*domain.OrderAggregate, error) {
	return s.orderRepo.GetOrderByID(ctx, orderID)
}

func (s *OrderService) GetOrdersByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*domain.OrderAggregate, error) {
	orders, err := s.orderRepo.GetOrdersByCustomerID(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("orders receive error: %w", err)
	}
	return orders, nil
}
