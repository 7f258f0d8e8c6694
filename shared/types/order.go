package types

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every ledger stores.
const MoneyScale = 2

// ExactMoney reports whether d can be stored at MoneyScale without rounding.
func ExactMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusPaid          OrderStatus = "PAID"
	OrderStatusPaymentFailed OrderStatus = "PAYMENT_FAILED"
	OrderStatusShipped       OrderStatus = "SHIPPED"
)

// Stage orders statuses along the only legal path
// PENDING -> {PAID, PAYMENT_FAILED} -> SHIPPED.
func (s OrderStatus) Stage() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusPaid, OrderStatusPaymentFailed:
		return 1
	case OrderStatusShipped:
		return 2
	default:
		return -1
	}
}

func (s OrderStatus) Valid() bool {
	return s.Stage() >= 0
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImageURL  string          `json:"image_url,omitempty"`
}

// Extension is unit price times quantity.
func (i OrderItem) Extension() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
