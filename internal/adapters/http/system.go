package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

type SystemHandler struct {
	metrics ports.MetricsReader
	gateway ports.ContainerGateway
}

func NewSystemHandler(metrics ports.MetricsReader, gateway ports.ContainerGateway) *SystemHandler {
	return &SystemHandler{metrics: metrics, gateway: gateway}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"engine_connected": h.gateway.IsConnected(),
	})
}

func (h *SystemHandler) GetMetrics(c *fiber.Ctx) error {
	latest, ok := h.metrics.Latest()
	if !ok {
		return errorResponse(c, domain.ErrNoSamples)
	}
	return c.JSON(fiber.Map{
		"metrics":          latest,
		"alerts":           alertList(h.metrics.CheckAlerts(latest)),
		"anomaly":          h.metrics.DetectAnomaly(latest),
		"engine_connected": h.gateway.IsConnected(),
	})
}

func (h *SystemHandler) GetHistory(c *fiber.Ctx) error {
	history := h.metrics.History()
	if limit := c.QueryInt("limit", 0); limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	return c.JSON(fiber.Map{
		"history": history,
		"count":   len(history),
	})
}

func (h *SystemHandler) GetAlerts(c *fiber.Ctx) error {
	latest, ok := h.metrics.Latest()
	if !ok {
		return errorResponse(c, domain.ErrNoSamples)
	}
	return c.JSON(fiber.Map{
		"alerts":    alertList(h.metrics.CheckAlerts(latest)),
		"timestamp": latest.Timestamp,
	})
}

// GetBaseline recomputes the baseline from the current history.
func (h *SystemHandler) GetBaseline(c *fiber.Ctx) error {
	baseline, err := h.metrics.ComputeBaseline()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(baseline)
}

func alertList(alerts []string) []string {
	if alerts == nil {
		return []string{}
	}
	return alerts
}
