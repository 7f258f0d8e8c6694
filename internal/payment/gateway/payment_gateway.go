package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
)

// PaymentGateway external payment provider interface
type PaymentGateway interface {
	// Authorize returns a declined response, not an error, when the provider
	// refuses the payment. Errors mean the outcome is unknown.
	Authorize(ctx context.Context, request PaymentRequest) (*PaymentResponse, error)
}

type PaymentRequest struct {
	PaymentID     string          `json:"payment_id"`
	OrderID       int64           `json:"order_id"`
	CustomerID    int64           `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
}

type PaymentResponse struct {
	Success       bool            `json:"success"`
	TransactionID string          `json:"transaction_id"`
	ExternalRef   string          `json:"external_ref"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessedAt   time.Time       `json:"processed_at"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// MockPaymentGateway approves everything unless a failure rate or a decline
// threshold is configured.
type MockPaymentGateway struct {
	FailureRate  float64 // 0.0 - 1.0
	DeclineAbove decimal.Decimal
	Latency      time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func NewMockPaymentGateway(failureRate float64, declineAbove decimal.Decimal) *MockPaymentGateway {
	return &MockPaymentGateway{
		FailureRate:  failureRate,
		DeclineAbove: declineAbove,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockPaymentGateway) Authorize(ctx context.Context, request PaymentRequest) (*PaymentResponse, error) {
	logx.WithContext(ctx).Infof("Mock Payment Gateway: authorizing payment %s for Order %d, Amount: %s",
		request.PaymentID, request.OrderID, request.Amount)

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	now := time.Now().UTC()

	if m.DeclineAbove.IsPositive() && request.Amount.GreaterThan(m.DeclineAbove) {
		return declined(request, now, fmt.Sprintf("amount exceeds limit of %s", m.DeclineAbove)), nil
	}

	if m.FailureRate > 0 && m.roll() < m.FailureRate {
		return declined(request, now, "insufficient funds"), nil
	}

	return &PaymentResponse{
		Success:       true,
		TransactionID: fmt.Sprintf("TXN_%d", now.UnixNano()),
		ExternalRef:   "REF_" + strings.ToUpper(uuid.New().String()[:8]),
		Amount:        request.Amount,
		ProcessedAt:   now,
	}, nil
}

func (m *MockPaymentGateway) roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rand == nil {
		m.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return m.rand.Float64()
}

func declined(request PaymentRequest, at time.Time, reason string) *PaymentResponse {
	return &PaymentResponse{
		Success:       false,
		Amount:        request.Amount,
		ProcessedAt:   at,
		FailureReason: reason,
	}
}
