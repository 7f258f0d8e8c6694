package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/gateway"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/idempotency"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

// memoryPayments keeps at most one terminal payment per order, like the
// partial unique index does.
type memoryPayments struct {
	mu       sync.Mutex
	payments map[string]*domain.PaymentAggregate
	stampErr error
}

func newMemoryPayments() *memoryPayments {
	return &memoryPayments{payments: make(map[string]*domain.PaymentAggregate)}
}

func (m *memoryPayments) findTerminal(orderID int64) *domain.PaymentAggregate {
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status != types.PaymentStatusPending {
			return p
		}
	}
	return nil
}

func (m *memoryPayments) FindTerminalByOrderID(_ context.Context, orderID int64) (*domain.PaymentAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.findTerminal(orderID)
	if p == nil {
		return nil, fmt.Errorf("%w: order %d", domain.ErrPaymentNotFound, orderID)
	}
	copied := *p
	return &copied, nil
}

func (m *memoryPayments) InsertTerminal(_ context.Context, payment *domain.PaymentAggregate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findTerminal(payment.OrderID) != nil {
		return false, nil
	}
	stored := *payment
	m.payments[payment.ID] = &stored
	return true, nil
}

func (m *memoryPayments) MarkResultPublished(_ context.Context, paymentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stampErr != nil {
		return m.stampErr
	}
	if p, ok := m.payments[paymentID]; ok && p.ResultPublishedAt == nil {
		p.ResultPublishedAt = &at
	}
	return nil
}

func (m *memoryPayments) GetPaymentByID(_ context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
	}
	copied := *p
	return &copied, nil
}

func (m *memoryPayments) GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error) {
	return m.FindTerminalByOrderID(ctx, orderID)
}

func (m *memoryPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
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

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.published...)
}

// countingGateway approves unless decline is set.
type countingGateway struct {
	mu      sync.Mutex
	calls   int
	decline string
	err     error
}

func (g *countingGateway) Authorize(_ context.Context, request gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.decline != "" {
		return &gateway.PaymentResponse{Success: false, Amount: request.Amount, FailureReason: g.decline}, nil
	}
	return &gateway.PaymentResponse{
		Success:       true,
		TransactionID: fmt.Sprintf("txn_%d", g.calls),
		Amount:        request.Amount,
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

func (g *countingGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), error) {
	return nil, idempotency.ErrLocked
}

var errBrokerDown = errors.New("broker unreachable")
