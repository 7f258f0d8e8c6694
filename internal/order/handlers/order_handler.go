package handlers

import (
	"errors"
	"strconv"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/service"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/gofiber/fiber/v2"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// RegisterRoutes mounts the order API under /api/v1.
func (h *OrderHandler) RegisterRoutes(api fiber.Router) {
	orders := api.Group("/orders")
	orders.Post("/", h.CreateOrder)    // POST /api/v1/orders
	orders.Get("/:id", h.GetOrderByID) // GET /api/v1/orders/:id

	customers := api.Group("/customers")
	customers.Get("/:customer_id/orders", h.GetOrdersByCustomerID) // GET /api/v1/customers/:customer_id/orders
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var request domain.CreateOrderRequest

	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	result, err := h.orderService.CreateOrder(c.UserContext(), request)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return sharedHTTP.BadRequestResponse(c, ve.Reason, map[string]interface{}{
				"field": ve.Field,
			})
		}
		logx.WithContext(c.UserContext()).Errorf("Order creation failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Order could not be created", nil)
	}

	order := result.Order
	response := CreateOrderResponse{
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		Status:         string(order.Status),
		TotalPrice:     order.TotalPrice.InexactFloat64(),
	}

	if result.Warning != "" {
		return sharedHTTP.CreatedWithWarning(c, "Order created", response, result.Warning)
	}
	return sharedHTTP.CreatedResponse(c, "Order created successfully", response)
}

func (h *OrderHandler) GetOrderByID(c *fiber.Ctx) error {
	orderIDStr := c.Params("id")
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil || orderID <= 0 {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": orderIDStr,
		})
	}

	order, err := h.orderService.GetOrderByID(c.UserContext(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return sharedHTTP.NotFoundResponse(c, "Order not found")
		}
		logx.WithContext(c.UserContext()).Errorf("Order receive failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Order could not be loaded", nil)
	}

	return sharedHTTP.SuccessResponse(c, "Order retrieved successfully", mapOrder(order))
}

func (h *OrderHandler) GetOrdersByCustomerID(c *fiber.Ctx) error {
	customerIDStr := c.Params("customer_id")
	customerID, err := strconv.ParseInt(customerIDStr, 10, 64)
	if err != nil || customerID <= 0 {
		return sharedHTTP.BadRequestResponse(c, "Invalid customer ID", map[string]interface{}{
			"customer_id": customerIDStr,
		})
	}

	limit := c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	orders, err := h.orderService.GetOrdersByCustomerID(c.UserContext(), customerID, limit, offset)
	if err != nil {
		logx.WithContext(c.UserContext()).Errorf("Customer orders receive failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Orders could not be loaded", nil)
	}

	items := make([]OrderResponse, len(orders))
	for i, order := range orders {
		items[i] = mapOrder(order)
	}

	return sharedHTTP.SuccessResponse(c, "Orders retrieved successfully", sharedHTTP.Page{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}
