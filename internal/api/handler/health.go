package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/database"
)

type HealthHandler struct {
	db      database.Pinger
	catalog func() int
	clients func() int
	logger  *slog.Logger
}

// NewHealthHandler creates the health handler. db may be nil, in which case
// readiness does not depend on the database.
func NewHealthHandler(db database.Pinger, catalog func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		catalog: catalog,
		logger:  logger,
	}
}

// WithFeedClients reports the number of live feed subscribers on /ready
func (h *HealthHandler) WithFeedClients(clients func() int) *HealthHandler {
	h.clients = clients
	return h
}

type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Identities  *int   `json:"identities,omitempty"`
	FeedClients *int   `json:"feed_clients,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.db != nil {
		if err := database.HealthCheck(c.UserContext(), h.db); err != nil {
			h.logger.Warn("readiness check failed", slog.Any("error", err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
				Status: "unavailable",
			})
		}
	}

	resp := HealthResponse{Status: "ready"}
	if h.catalog != nil {
		n := h.catalog()
		resp.Identities = &n
	}
	if h.clients != nil {
		n := h.clients()
		resp.FeedClients = &n
	}
	return c.JSON(resp)
}
