package domain

import "strings"

// RegisterAgentRequest is the request to register or re-register an agent.
type RegisterAgentRequest struct {
	AgentID      string            `json:"agent_id"`
	Name         string            `json:"name,omitempty"`
	Location     string            `json:"location"`
	Address      string            `json:"address"`
	DeviceID     string            `json:"device_id,omitempty"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Status       string            `json:"status,omitempty"` // defaults to online
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ToRecord converts the request into a validated AgentRecord.
func (r *RegisterAgentRequest) ToRecord() (*AgentRecord, error) {
	record := &AgentRecord{
		AgentID:      strings.TrimSpace(r.AgentID),
		Name:         r.Name,
		Location:     Location(strings.ToLower(strings.TrimSpace(r.Location))),
		Address:      strings.TrimSpace(r.Address),
		DeviceID:     strings.TrimSpace(r.DeviceID),
		TenantID:     r.TenantID,
		Capabilities: NormalizeCapabilities(r.Capabilities),
		Status:       AgentStatusOnline,
		Metadata:     r.Metadata,
	}
	if r.Status != "" {
		record.Status = AgentStatus(strings.ToLower(strings.TrimSpace(r.Status)))
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// RegisterAgentResponse is returned after a registration.
type RegisterAgentResponse struct {
	Agent          *AgentRecord `json:"agent"`
	PendingFlushed int          `json:"pending_flushed"`
}

// UpdateStatusRequest changes the reachability of an agent.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatusResponse is returned after a status change.
type UpdateStatusResponse struct {
	AgentID        string      `json:"agent_id"`
	Status         AgentStatus `json:"status"`
	PendingFlushed int         `json:"pending_flushed"`
}

// DiscoverResponse lists the agents matching a discovery query.
type DiscoverResponse struct {
	Agents []AgentRecord `json:"agents"`
	Count  int           `json:"count"`
}

// PendingMessagesResponse lists the non-terminal queue entries of an agent.
type PendingMessagesResponse struct {
	AgentID  string          `json:"agent_id"`
	Messages []QueuedMessage `json:"messages"`
	Count    int             `json:"count"`
}
