package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// TerminalHandler manages terminal sessions. Sessions created here are
// attached later over the realtime channel with a connect message.
type TerminalHandler struct {
	sessions ports.SessionManager
	gateway  ports.ContainerGateway
}

func NewTerminalHandler(sessions ports.SessionManager, gateway ports.ContainerGateway) *TerminalHandler {
	return &TerminalHandler{sessions: sessions, gateway: gateway}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

func (h *TerminalHandler) CreateSession(c *fiber.Ctx) error {
	containerID := c.Params("containerId")

	var req createSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	container, err := h.gateway.InspectContainer(c.UserContext(), containerID, true)
	if err != nil {
		return errorResponse(c, err)
	}
	if !container.Running() {
		return errorResponse(c, fmt.Errorf("container %s is %s: %w", containerID, container.State, domain.ErrInvalidState))
	}

	sessionID, err := h.sessions.CreateSession(container.ID, req.UserID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"session_id": sessionID,
	})
}

func (h *TerminalHandler) ListSessions(c *fiber.Ctx) error {
	sessions := h.sessions.List()
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *TerminalHandler) CloseSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := h.sessions.Get(id); !ok {
		return errorResponse(c, fmt.Errorf("session %s: %w", id, domain.ErrNotFound))
	}
	if err := h.sessions.Close(id); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "session " + id + " closed",
	})
}
