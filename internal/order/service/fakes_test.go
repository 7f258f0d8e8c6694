package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*domain.OrderAggregate
	createErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: make(map[int64]*domain.OrderAggregate)}
}

func (m *memoryStore) CreateOrder(_ context.Context, order *domain.OrderAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	order.ID = m.nextID
	stored := *order
	m.orders[order.ID] = &stored
	return nil
}

func (m *memoryStore) put(order domain.OrderAggregate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = &order
}

func (m *memoryStore) GetOrderByID(_ context.Context, orderID int64) (*domain.OrderAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	copied := *order
	return &copied, nil
}

func (m *memoryStore) GetOrdersByCustomerID(_ context.Context, customerID int64, limit, offset int) ([]*domain.OrderAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OrderAggregate
	for id := m.nextID; id > 0; id-- {
		if o, ok := m.orders[id]; ok && o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) GetUnpublishedOrders(_ context.Context, cutoff time.Time, limit int) ([]*domain.OrderAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OrderAggregate
	for id := int64(1); id <= m.nextID && len(out) < limit; id++ {
		o, ok := m.orders[id]
		if ok && o.Status == types.OrderStatusPending && o.FulfillmentPublishedAt == nil && o.CreatedAt.Before(cutoff) {
			copied := *o
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memoryStore) MarkFulfillmentPublished(_ context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && o.FulfillmentPublishedAt == nil {
		o.FulfillmentPublishedAt = &at
	}
	return nil
}

func (m *memoryStore) TransitionStatus(_ context.Context, orderID int64, target types.OrderStatus, from []types.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = target
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) GetOrderStatus(_ context.Context, orderID int64) (types.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return "", fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	return o.Status, nil
}

func (m *memoryStore) status(orderID int64) types.OrderStatus {
	s, _ := m.GetOrderStatus(context.Background(), orderID)
	return s
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	p.published = append(p.published, e)
	return nil
}

func (p *recordingPublisher) events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.published...)
}

var errBrokerDown = errors.New("broker unreachable")

type staticCatalog struct {
	known map[string]bool
}

func (c staticCatalog) MissingProducts(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if !c.known[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
