package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/pkg/logger"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping() error
}

type SystemHandler struct {
	store Pinger
}

func NewSystemHandler(store Pinger) *SystemHandler {
	return &SystemHandler{store: store}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *SystemHandler) Ready(c *fiber.Ctx) error {
	if err := h.store.Ping(); err != nil {
		logger.Warn("Readiness check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}
