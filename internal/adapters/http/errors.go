package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// statusFor maps a domain error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAction):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrSessionLimit):
		return fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrEngineUnreachable), errors.Is(err, domain.ErrNoSamples):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrInvalidState):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
