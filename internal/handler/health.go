package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/auditforge/api/internal/store"
	"github.com/auditforge/api/internal/toolserver"
	"github.com/auditforge/api/pkg/response"
)

type HealthHandler struct {
	store   store.JobStore
	manager *toolserver.Manager
}

func NewHealthHandler(st store.JobStore, manager *toolserver.Manager) *HealthHandler {
	return &HealthHandler{
		store:   st,
		manager: manager,
	}
}

// Check handles GET /healthz
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.store.Ping(c.Context()); err != nil {
		return response.ServiceError(c, "database unavailable")
	}

	body := fiber.Map{
		"status": "ok",
	}
	if h.manager != nil {
		body["toolServers"] = h.manager.ConnectedCount()
	}
	return response.OK(c, body)
}
