package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// RegisterAgent registers or re-registers an agent.
// POST /v1/agents/register
func (h *Handler) RegisterAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	agent, flushed, err := h.service.RegisterAgent(ctx, req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, domain.RegisterAgentResponse{
		Agent:          agent,
		PendingFlushed: flushed,
	})
}

// ListAgents lists all registered agents.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	ctx := c.Request().Context()

	agents, err := h.service.ListAgents(ctx)
	if err != nil {
		return errorResponse(c, err)
	}
	if agents == nil {
		agents = []domain.AgentRecord{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": agents,
	})
}

// DiscoverAgents finds online agents by capability, location and tenant.
// GET /v1/agents/discover?capabilities=a,b&location=edge&tenant_id=t&limit=n
func (h *Handler) DiscoverAgents(c echo.Context) error {
	ctx := c.Request().Context()

	filter := domain.AgentFilter{
		Location: domain.Location(c.QueryParam("location")),
		TenantID: c.QueryParam("tenant_id"),
		Limit:    queryInt(c, "limit", 0),
	}
	if caps := c.QueryParam("capabilities"); caps != "" {
		filter.Capabilities = strings.Split(caps, ",")
	}

	agents, err := h.service.DiscoverAgents(ctx, filter)
	if err != nil {
		return errorResponse(c, err)
	}
	if agents == nil {
		agents = []domain.AgentRecord{}
	}

	return c.JSON(http.StatusOK, domain.DiscoverResponse{
		Agents: agents,
		Count:  len(agents),
	})
}

// GetAgent gets a specific agent by ID.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	ctx := c.Request().Context()

	agent, err := h.service.GetAgent(ctx, c.Param("agent_id"))
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, agent)
}

// UnregisterAgent removes an agent.
// DELETE /v1/agents/:agent_id
func (h *Handler) UnregisterAgent(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	if err := h.service.UnregisterAgent(ctx, agentID); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":       true,
		"agent_id": agentID,
	})
}

// UpdateAgentStatus marks an agent online or offline.
// PUT /v1/agents/:agent_id/status
func (h *Handler) UpdateAgentStatus(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	var req domain.UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Status == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status is required"})
	}

	agent, flushed, err := h.service.UpdateAgentStatus(ctx, agentID, domain.AgentStatus(req.Status))
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, domain.UpdateStatusResponse{
		AgentID:        agentID,
		Status:         agent.Status,
		PendingFlushed: flushed,
	})
}

// GetPendingMessages lists the queued entries still waiting for an agent.
// GET /v1/agents/:agent_id/pending
func (h *Handler) GetPendingMessages(c echo.Context) error {
	ctx := c.Request().Context()
	agentID := c.Param("agent_id")

	entries, err := h.service.GetPendingMessages(ctx, agentID, queryInt(c, "limit", 50))
	if err != nil {
		return errorResponse(c, err)
	}
	if entries == nil {
		entries = []domain.QueuedMessage{}
	}

	return c.JSON(http.StatusOK, domain.PendingMessagesResponse{
		AgentID:  agentID,
		Messages: entries,
		Count:    len(entries),
	})
}
