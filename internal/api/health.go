// Package api holds the fiber handlers for the HTTP surface: the health check and the WebSocket upgrade endpoint.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/devpulse/devpulse-server/internal/httputil"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	db     Pinger
	broker Pinger
}

// NewHealthHandler creates a health handler over the State Store and broker connections.
func NewHealthHandler(db, broker Pinger) *HealthHandler {
	return &HealthHandler{db: db, broker: broker}
}

// Health handles GET /healthz. It pings PostgreSQL and the broker, returning per-component status and 503 when either
// is unreachable.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	pgStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		pgStatus = "unavailable"
	}

	brokerStatus := "ok"
	if err := h.broker.Ping(ctx); err != nil {
		brokerStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if pgStatus != "ok" || brokerStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":   overall,
		"postgres": pgStatus,
		"valkey":   brokerStatus,
	})
}
