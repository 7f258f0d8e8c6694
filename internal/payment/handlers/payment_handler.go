package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/service"
	sharedHTTP "github.com/distributed-ecommerce-saga/order-pipeline/shared/http"
	"github.com/gofiber/fiber/v2"
	"github.com/zeromicro/go-zero/core/logx"
)

type PaymentResponse struct {
	PaymentID         string     `json:"payment_id"`
	OrderID           int64      `json:"order_id"`
	Amount            float64    `json:"amount"`
	Method            string     `json:"method"`
	Provider          string     `json:"provider"`
	Status            string     `json:"status"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ResultPublishedAt *time.Time `json:"result_published_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/orders/:order_id/payment", h.GetPaymentByOrderID) // GET /api/v1/orders/:order_id/payment
	api.Get("/payments/:payment_id", h.GetPaymentByID)          // GET /api/v1/payments/:payment_id
}

func (h *PaymentHandler) GetPaymentByOrderID(c *fiber.Ctx) error {
	orderIDStr := c.Params("order_id")
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil || orderID <= 0 {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": orderIDStr,
		})
	}

	payment, err := h.paymentService.GetPaymentByOrderID(c.UserContext(), orderID)
	return h.respond(c, payment, err)
}

func (h *PaymentHandler) GetPaymentByID(c *fiber.Ctx) error {
	payment, err := h.paymentService.GetPaymentByID(c.UserContext(), c.Params("payment_id"))
	return h.respond(c, payment, err)
}

func (h *PaymentHandler) respond(c *fiber.Ctx, payment *domain.PaymentAggregate, err error) error {
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return sharedHTTP.NotFoundResponse(c, "Payment not found")
		}
		logx.WithContext(c.UserContext()).Errorf("Payment receive failed: %v", err)
		return sharedHTTP.InternalServerErrorResponse(c, "Payment could not be loaded", nil)
	}

	return sharedHTTP.SuccessResponse(c, "Payment retrieved successfully", PaymentResponse{
		PaymentID:         payment.ID,
		OrderID:           payment.OrderID,
		Amount:            payment.Amount.InexactFloat64(),
		Method:            payment.Method,
		Provider:          payment.Provider,
		Status:            string(payment.Status),
		TransactionID:     payment.TransactionID,
		FailureReason:     payment.FailureReason,
		ResultPublishedAt: payment.ResultPublishedAt,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
	})
}
