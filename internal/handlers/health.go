package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Pinger is anything the health check can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	store   Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, store Pinger) *HealthHandler {
	return &HealthHandler{
		Version: version,
		store:   store,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status, code := "OK", fiber.StatusOK
	database := "up"
	if h.store != nil {
		if err := h.store.Ping(c.UserContext()); err != nil {
			status, code = "DEGRADED", fiber.StatusServiceUnavailable
			database = "down"
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"service":  "SMS Booking Backend",
		"version":  h.Version,
		"database": database,
	})
}
