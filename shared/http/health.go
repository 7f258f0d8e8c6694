package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck probes one dependency of a service.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler reports 200 when every check passes and 503 otherwise.
func HealthHandler(service string, checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		status := map[string]interface{}{
			"service": service,
		}
		healthy := true
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				status[check.Name] = err.Error()
				healthy = false
				continue
			}
			status[check.Name] = "ok"
		}

		if !healthy {
			return ServiceUnavailableResponse(c, "Service is unhealthy", status)
		}
		return SuccessResponse(c, "Service is healthy", status)
	}
}
