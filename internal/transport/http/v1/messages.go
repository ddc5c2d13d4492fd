package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// RouteMessage delivers or queues a message for each of its targets.
// POST /v1/messages/route
func (h *Handler) RouteMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var msg domain.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.RouteMessage(ctx, &msg)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// GetQueuedMessage returns one queue entry.
// GET /v1/queue/:queue_id
func (h *Handler) GetQueuedMessage(c echo.Context) error {
	ctx := c.Request().Context()

	entry, err := h.service.GetQueuedMessage(ctx, c.Param("queue_id"))
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, entry)
}

// GetStatistics returns registry and queue counts.
// GET /v1/stats
func (h *Handler) GetStatistics(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.service.GetStatistics(ctx)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, stats)
}
