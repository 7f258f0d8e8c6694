package handlers

import (
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

type CreateOrderResponse struct {
	OrderID        int64   `json:"order_id"`
	TrackingNumber string  `json:"tracking_number"`
	Status         string  `json:"status"`
	TotalPrice     float64 `json:"total_price"`
}

type OrderResponse struct {
	ID              int64                   `json:"id"`
	CustomerID      int64                   `json:"customer_id"`
	TrackingNumber  string                  `json:"tracking_number"`
	Items           []OrderItemResponse     `json:"items"`
	TotalQuantity   int                     `json:"total_quantity"`
	ShippingFee     float64                 `json:"shipping_fee"`
	TotalPrice      float64                 `json:"total_price"`
	Status          string                  `json:"status"`
	PaymentMethod   string                  `json:"payment_method"`
	ShippingAddress ShippingAddressResponse `json:"shipping_address"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	ImageURL  string  `json:"image_url,omitempty"`
}

type ShippingAddressResponse struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

func mapOrder(order *domain.OrderAggregate) OrderResponse {
	return OrderResponse{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		TrackingNumber:  order.TrackingNumber,
		Items:           mapOrderItems(order.Items),
		TotalQuantity:   order.TotalQuantity,
		ShippingFee:     order.ShippingFee.InexactFloat64(),
		TotalPrice:      order.TotalPrice.InexactFloat64(),
		Status:          string(order.Status),
		PaymentMethod:   order.PaymentMethod,
		ShippingAddress: mapShippingAddress(order.ShippingAddress),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func mapOrderItems(items []types.OrderItem) []OrderItemResponse {
	responses := make([]OrderItemResponse, len(items))
	for i, item := range items {
		responses[i] = OrderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.InexactFloat64(),
			ImageURL:  item.ImageURL,
		}
	}
	return responses
}

func mapShippingAddress(address types.ShippingAddress) ShippingAddressResponse {
	return ShippingAddressResponse{
		Street:  address.Street,
		City:    address.City,
		State:   address.State,
		ZipCode: address.ZipCode,
		Country: address.Country,
	}
}
