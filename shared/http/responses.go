package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Page wraps a list result with the paging window that produced it.
type Page struct {
	Items  interface{} `json:"items"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func SuccessResponse(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, fiber.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

func CreatedResponse(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, fiber.StatusCreated, APIResponse{Success: true, Message: message, Data: data})
}

// CreatedWithWarning is a 201 whose side effects were only partly completed.
func CreatedWithWarning(c *fiber.Ctx, message string, data interface{}, warning string) error {
	return respond(c, fiber.StatusCreated, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Warning: warning,
	})
}

func BadRequestResponse(c *fiber.Ctx, message string, details map[string]interface{}) error {
	return errorResponse(c, fiber.StatusBadRequest, "BAD_REQUEST", message, details)
}

func NotFoundResponse(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusNotFound, "NOT_FOUND", message, nil)
}

func InternalServerErrorResponse(c *fiber.Ctx, message string, details map[string]interface{}) error {
	return errorResponse(c, fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, details)
}

func ServiceUnavailableResponse(c *fiber.Ctx, message string, details map[string]interface{}) error {
	return errorResponse(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, details)
}

// ErrorHandler is the Fiber fallback for errors no handler turned into a response.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return errorResponse(c, code, "ERROR", message, nil)
}

// NotFoundRoute answers every request that matched no route.
func NotFoundRoute(c *fiber.Ctx) error {
	return NotFoundResponse(c, "Route not found")
}

func errorResponse(c *fiber.Ctx, status int, code, message string, details map[string]interface{}) error {
	return respond(c, status, APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func respond(c *fiber.Ctx, status int, body APIResponse) error {
	body.Timestamp = time.Now()
	body.RequestID = getRequestID(c)
	return c.Status(status).JSON(body)
}

func getRequestID(c *fiber.Ctx) string {
	requestID := c.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Set(RequestIDHeader, requestID)
	return requestID
}
