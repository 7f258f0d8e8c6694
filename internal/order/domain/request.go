package domain

import (
	"fmt"
	"strings"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	CustomerID      int64                   `json:"customer_id"`
	Items           []OrderItemRequest      `json:"items"`
	ShippingAddress *ShippingAddressRequest `json:"shipping_address"`
	BillingAddress  *ShippingAddressRequest `json:"billing_address,omitempty"`
	PaymentMethod   string                  `json:"payment_method,omitempty"`
	// TotalPrice is accepted for client compatibility and never trusted.
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
}

type OrderItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImageURL  string          `json:"image_url,omitempty"`
}

type ShippingAddressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// ValidationError describes the first invalid field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks everything that can be checked without the catalog.
func (r CreateOrderRequest) Validate() error {
	if r.CustomerID <= 0 {
		return invalid("customer_id", "customer id is required")
	}
	if len(r.Items) == 0 {
		return invalid("items", "cart is empty")
	}
	for i, item := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return invalid(field+".product_id", "product id is required")
		}
		if item.Quantity < 1 {
			return invalid(field+".quantity", "quantity must be at least 1, got %d", item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return invalid(field+".unit_price", "unit price must not be negative, got %s", item.UnitPrice)
		}
		if !types.ExactMoney(item.UnitPrice) {
			return invalid(field+".unit_price", "unit price allows at most %d decimals, got %s", types.MoneyScale, item.UnitPrice)
		}
	}
	if r.ShippingAddress == nil {
		return invalid("shipping_address", "shipping address is required")
	}
	if !r.ShippingAddress.ToShippingAddress().Complete() {
		return invalid("shipping_address", "street, city and country are required")
	}
	return nil
}

// ProductIDs returns the distinct product ids in request order.
func (r CreateOrderRequest) ProductIDs() []string {
	seen := make(map[string]bool, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		id := strings.TrimSpace(item.ProductID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// converts to domain model
func (r CreateOrderRequest) ToOrderItems() []types.OrderItem {
	items := make([]types.OrderItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = types.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
		}
	}
	return items
}

// converts to domain model
func (a *ShippingAddressRequest) ToShippingAddress() types.ShippingAddress {
	if a == nil {
		return types.ShippingAddress{}
	}
	return types.ShippingAddress{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		ZipCode: a.ZipCode,
		Country: a.Country,
	}.Normalize()
}

func (a *ShippingAddressRequest) toOptionalAddress() *types.ShippingAddress {
	if a == nil {
		return nil
	}
	address := a.ToShippingAddress()
	return &address
}
