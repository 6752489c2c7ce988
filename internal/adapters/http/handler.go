package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

type ContainerHandler struct {
	gateway ports.ContainerGateway
	metrics ports.MetricsReader
}

func NewContainerHandler(gateway ports.ContainerGateway, metrics ports.MetricsReader) *ContainerHandler {
	return &ContainerHandler{gateway: gateway, metrics: metrics}
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.gateway.ListContainers(c.UserContext(), c.QueryBool("cached", false))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(containers)
}

func (h *ContainerHandler) GetContainer(c *fiber.Ctx) error {
	container, err := h.gateway.InspectContainer(c.UserContext(), c.Params("id"), c.QueryBool("cached", false))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(container)
}

func (h *ContainerHandler) GetStats(c *fiber.Ctx) error {
	return h.stats(c, false)
}

// GetCachedStats serves stats from the gateway cache while they are fresh.
func (h *ContainerHandler) GetCachedStats(c *fiber.Ctx) error {
	return h.stats(c, true)
}

func (h *ContainerHandler) stats(c *fiber.Ctx, useCache bool) error {
	stats, err := h.gateway.GetStats(c.UserContext(), c.Params("id"), useCache)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(stats)
}

func (h *ContainerHandler) GetStatsHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	history := h.metrics.ContainerHistory(id)
	return c.JSON(fiber.Map{
		"container_id": id,
		"history":      history,
		"count":        len(history),
	})
}

func (h *ContainerHandler) GetLogs(c *fiber.Ctx) error {
	opts := domain.LogOptions{
		Tail:       c.QueryInt("lines", 0),
		Timestamps: c.QueryBool("timestamps", false),
	}
	var err error
	if opts.Since, err = parseTime(c.Query("since")); err != nil {
		return badRequest(c, "invalid since: "+err.Error())
	}
	if opts.Until, err = parseTime(c.Query("until")); err != nil {
		return badRequest(c, "invalid until: "+err.Error())
	}

	logs, err := h.gateway.Logs(c.UserContext(), c.Params("id"), opts)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(logs)
}

// parseTime accepts RFC 3339 or unix seconds. Empty means unset.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (h *ContainerHandler) GetProcesses(c *fiber.Ctx) error {
	id := c.Params("id")
	processes, err := h.gateway.Processes(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"container_id": id,
		"processes":    processes,
	})
}

// PerformAction runs one lifecycle verb taken from the route.
func (h *ContainerHandler) PerformAction(c *fiber.Ctx) error {
	id := c.Params("id")
	action, err := domain.ParseAction(c.Params("action"))
	if err != nil {
		return errorResponse(c, err)
	}
	if err := h.gateway.PerformAction(c.UserContext(), id, action); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "container " + id + " " + string(action) + " completed",
	})
}

func (h *ContainerHandler) RemoveContainer(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.gateway.RemoveContainer(c.UserContext(), id, c.QueryBool("force", false)); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "container " + id + " removed",
	})
}

type batchRequest struct {
	Operations []struct {
		ContainerID string `json:"container_id"`
		Action      string `json:"action"`
	} `json:"operations"`
	Strict bool `json:"strict"`
}

func (h *ContainerHandler) BatchActions(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Operations) == 0 {
		return badRequest(c, "operations are required")
	}

	ops := make([]domain.BatchOperation, 0, len(req.Operations))
	for _, op := range req.Operations {
		if op.ContainerID == "" {
			return badRequest(c, "container_id is required for every operation")
		}
		action, err := domain.ParseAction(op.Action)
		if err != nil {
			return errorResponse(c, err)
		}
		ops = append(ops, domain.BatchOperation{ContainerID: op.ContainerID, Action: action})
	}

	report, err := h.gateway.BatchActions(c.UserContext(), ops, req.Strict)
	resp := fiber.Map{
		"success":   err == nil && report.Failed == 0,
		"results":   report.Results,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	}
	if err != nil {
		if len(report.Results) == 0 {
			return errorResponse(c, err)
		}
		resp["message"] = err.Error()
	} else if batchErr := report.Err(); batchErr != nil {
		resp["message"] = batchErr.Error()
	}
	return c.JSON(resp)
}
