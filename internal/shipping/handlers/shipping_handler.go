package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/service"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/gofiber/fiber/v2"
	"github.com/zeromicro/go-zero/core/logx"
)

type ShipmentResponse struct {
	ID             int64                 `json:"id"`
	OrderID        int64                 `json:"order_id"`
	CustomerID     int64                 `json:"customer_id"`
	TrackingNumber string                `json:"tracking_number"`
	Status         string                `json:"status"`
	Address        ShippingAddressDTO    `json:"address"`
	Items          []domain.ShipmentItem `json:"items"`
	ShippedAt      *time.Time            `json:"shipped_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type ShippingAddressDTO struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

type ShippingHandler struct {
	shippingService *service.ShippingService
}

func NewShippingHandler(shippingService *service.ShippingService) *ShippingHandler {
	return &ShippingHandler{shippingService: shippingService}
}

func (h *ShippingHandler) RegisterRoutes(api fiber.Router) {
	shipment := api.Group("/orders/:order_id/shipment")
	shipment.Get("/", h.GetShipment)    // GET /api/v1/orders/:order_id/shipment
	shipment.Post("/ship", h.ShipOrder) // POST /api/v1/orders/:order_id/shipment/ship
}

func (h *ShippingHandler) GetShipment(c *fiber.Ctx) error {
	orderID, ok := parseOrderID(c)
	if !ok {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("order_id"),
		})
	}

	shipment, err := h.shippingService.GetShipmentByOrderID(c.UserContext(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrShipmentNotFound) {
			return sharedHTTP.NotFoundResponse(c, "Shipment not found")
		}
		logx.WithContext(c.UserContext()).Errorf("Shipment receive failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Shipment could not be loaded", nil)
	}

	return sharedHTTP.SuccessResponse(c, "Shipment retrieved successfully", mapShipment(shipment))
}

func (h *ShippingHandler) ShipOrder(c *fiber.Ctx) error {
	orderID, ok := parseOrderID(c)
	if !ok {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("order_id"),
		})
	}

	shipment, err := h.shippingService.ShipOrder(c.UserContext(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrShipmentNotFound) {
			return sharedHTTP.NotFoundResponse(c, "Shipment not found")
		}
		if shipment != nil {
			logx.WithContext(c.UserContext()).Errorf("Shipment event publish failed: %v", err)
			return sharedHTTP.ServiceUnavailableResponse(c, "Shipment marked shipped but the event was not sent, retry", nil)
		}
		logx.WithContext(c.UserContext()).Errorf("Shipment ship failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Shipment could not be shipped", nil)
	}

	return sharedHTTP.SuccessResponse(c, "Shipment shipped", mapShipment(shipment))
}

func parseOrderID(c *fiber.Ctx) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Params("order_id"), 10, 64)
	return orderID, err == nil && orderID > 0
}

func mapShipment(s *domain.ShipmentAggregate) ShipmentResponse {
	return ShipmentResponse{
		ID:             s.ID,
		OrderID:        s.OrderID,
		CustomerID:     s.CustomerID,
		TrackingNumber: s.TrackingNumber,
		Status:         string(s.Status),
		Address:        mapAddress(s.Address),
		Items:          s.Items,
		ShippedAt:      s.ShippedAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func mapAddress(a types.ShippingAddress) ShippingAddressDTO {
	return ShippingAddressDTO{
		Street:  a.Street,
		City:    a.City,
		State:   a.State,
		ZipCode: a.ZipCode,
		Country: a.Country,
	}
}
