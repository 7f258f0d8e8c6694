package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/service"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	orders map[int64]*domain.OrderAggregate
	failDB bool
}

func (s *stubStore) CreateOrder(_ context.Context, order *domain.OrderAggregate) error {
	if s.failDB {
		return errors.New("db down")
	}
	order.ID = int64(len(s.orders) + 1)
	s.orders[order.ID] = order
	return nil
}

func (s *stubStore) GetOrderByID(_ context.Context, id int64) (*domain.OrderAggregate, error) {
	if s.failDB {
		return nil, errors.New("db down")
	}
	if o, ok := s.orders[id]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
}

func (s *stubStore) GetOrdersByCustomerID(_ context.Context, customerID int64, limit, offset int) ([]*domain.OrderAggregate, error) {
	var out []*domain.OrderAggregate
	for id := int64(1); id <= int64(len(s.orders)); id++ {
		if s.orders[id].CustomerID == customerID {
			out = append(out, s.orders[id])
		}
	}
	return out, nil
}

func (s *stubStore) GetUnpublishedOrders(context.Context, time.Time, int) ([]*domain.OrderAggregate, error) {
	return nil, nil
}

func (s *stubStore) MarkFulfillmentPublished(context.Context, int64, time.Time) error { return nil }

func (s *stubStore) TransitionStatus(context.Context, int64, types.OrderStatus, []types.OrderStatus) (bool, error) {
	return false, nil
}

func (s *stubStore) GetOrderStatus(context.Context, int64) (types.OrderStatus, error) {
	return "", domain.ErrOrderNotFound
}

type stubPublisher struct {
	err   error
	count int
}

func (p *stubPublisher) Publish(context.Context, events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.count++
	return nil
}

func newTestApp(store *stubStore, pub *stubPublisher) *fiber.App {
	svc := service.NewOrderService(store, pub, nil, decimal.NewFromInt(30000))
	app := fiber.New(fiber.Config{ErrorHandler: sharedHTTP.ErrorHandler})
	NewOrderHandler(svc).RegisterRoutes(app.Group("/api/v1"))
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Warning string          `json:"warning"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	res, err := app.Test(req)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

const validBody = `{
	"customer_id": 3,
	"items": [{"product_id": "p1", "quantity": 2, "unit_price": 199000}],
	"shipping_address": {"street": "1 Main", "city": "Hanoi", "country": "VN"},
	"total_price": 1
}`

func TestCreateOrderIgnoresClientTotal(t *testing.T) {
	store := &stubStore{orders: map[int64]*domain.OrderAggregate{}}
	pub := &stubPublisher{}
	app := newTestApp(store, pub)

	status, env := do(t, app, "POST", "/api/v1/orders", validBody)
	require.Equal(t, fiber.StatusCreated, status)
	assert.True(t, env.Success)
	assert.Empty(t, env.Warning)

	var created CreateOrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, int64(1), created.OrderID)
	assert.Equal(t, 428000.0, created.TotalPrice)
	assert.Equal(t, "PENDING", created.Status)
	assert.True(t, strings.HasPrefix(created.TrackingNumber, "ORD-"))
	assert.Equal(t, 1, pub.count)
}

func TestCreateOrderPublishFailureReturnsWarning(t *testing.T) {
	store := &stubStore{orders: map[int64]*domain.OrderAggregate{}}
	app := newTestApp(store, &stubPublisher{err: errors.New("broker down")})

	status, env := do(t, app, "POST", "/api/v1/orders", validBody)
	require.Equal(t, fiber.StatusCreated, status)
	assert.True(t, env.Success)
	assert.Equal(t, service.PublishWarning, env.Warning)
	assert.Len(t, store.orders, 1)
}

func TestCreateOrderValidation(t *testing.T) {
	app := newTestApp(&stubStore{orders: map[int64]*domain.OrderAggregate{}}, &stubPublisher{})

	status, env := do(t, app, "POST", "/api/v1/orders", `{"customer_id": 3, "items": []}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "items", env.Error.Details["field"])

	status, _ = do(t, app, "POST", "/api/v1/orders", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCreateOrderDatabaseFailure(t *testing.T) {
	app := newTestApp(&stubStore{orders: map[int64]*domain.OrderAggregate{}, failDB: true}, &stubPublisher{})

	status, env := do(t, app, "POST", "/api/v1/orders", validBody)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.False(t, env.Success)
}

func TestGetOrder(t *testing.T) {
	store := &stubStore{orders: map[int64]*domain.OrderAggregate{}}
	app := newTestApp(store, &stubPublisher{})
	do(t, app, "POST", "/api/v1/orders", validBody)

	status, env := do(t, app, "GET", "/api/v1/orders/1", "")
	require.Equal(t, fiber.StatusOK, status)
	var order OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, "Hanoi", order.ShippingAddress.City)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 199000.0, order.Items[0].UnitPrice)

	status, _ = do(t, app, "GET", "/api/v1/orders/2", "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = do(t, app, "GET", "/api/v1/orders/abc", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetOrdersByCustomer(t *testing.T) {
	store := &stubStore{orders: map[int64]*domain.OrderAggregate{}}
	app := newTestApp(store, &stubPublisher{})
	do(t, app, "POST", "/api/v1/orders", validBody)
	do(t, app, "POST", "/api/v1/orders", validBody)

	status, env := do(t, app, "GET", "/api/v1/customers/3/orders?limit=500", "")
	require.Equal(t, fiber.StatusOK, status)

	var page struct {
		Items  []OrderResponse `json:"items"`
		Limit  int             `json:"limit"`
		Offset int             `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, defaultPageSize, page.Limit)
}
