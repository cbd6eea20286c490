package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/report"
	"github.com/deepresearch/backend/internal/research"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/logger"
)

// respondError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a 500 naming the failed action.
func respondError(c *fiber.Ctx, err error, action string) error {
	status := fiber.StatusInternalServerError
	msg := "Failed to " + action

	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Not found"
	case errors.Is(err, research.ErrInvalidQuery):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, research.ErrNotReady):
		status, msg = fiber.StatusConflict, err.Error()
	case errors.Is(err, report.ErrUnsupportedFormat):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, report.ErrFormatNotImplemented):
		status, msg = fiber.StatusNotImplemented, err.Error()
	default:
		logger.Error("Request failed",
			zap.String("action", action),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(fiber.Map{"error": msg})
}
