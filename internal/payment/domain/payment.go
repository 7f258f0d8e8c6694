package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/shopspring/decimal"
)

var ErrPaymentNotFound = errors.New("payment not found")

const DefaultMethod = "COD"

type PaymentAggregate struct {
	ID                string              `json:"payment_id"`
	OrderID           int64               `json:"order_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Method            string              `json:"method"`
	Provider          string              `json:"provider"`
	Status            types.PaymentStatus `json:"status"`
	TransactionID     string              `json:"transaction_id,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
	ResultPublishedAt *time.Time          `json:"result_published_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func NewPaymentAggregate(id string, orderID int64, amount decimal.Decimal, method, provider string, now time.Time) *PaymentAggregate {
	if method == "" {
		method = DefaultMethod
	}
	return &PaymentAggregate{
		ID:        id,
		OrderID:   orderID,
		Amount:    amount,
		Method:    method,
		Provider:  provider,
		Status:    types.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *PaymentAggregate) Complete(transactionID string, at time.Time) {
	p.Status = types.PaymentStatusCompleted
	p.TransactionID = transactionID
	p.FailureReason = ""
	p.UpdatedAt = at
}

func (p *PaymentAggregate) Fail(reason string, at time.Time) {
	p.Status = types.PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = at
}

// ResultPublished reports whether the outcome already reached the broker.
func (p *PaymentAggregate) ResultPublished() bool {
	return p.ResultPublishedAt != nil
}

// ResultEvent builds the payment result for a terminal payment.
func (p *PaymentAggregate) ResultEvent() (events.PaymentResult, error) {
	status, ok := events.ResultStatusOf(p.Status)
	if !ok {
		return events.PaymentResult{}, fmt.Errorf("payment %s is not terminal: %s", p.ID, p.Status)
	}
	return events.PaymentResult{
		OrderID:     p.OrderID,
		PaymentID:   p.ID,
		Status:      status,
		Amount:      events.NewAmount(p.Amount),
		ProcessedAt: p.UpdatedAt.UTC(),
		Reason:      p.FailureReason,
	}, nil
}
