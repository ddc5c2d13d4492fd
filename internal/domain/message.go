package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Message is the envelope a producer agent sends through the relay.
// The payload is opaque; only the addressing fields are interpreted.
type Message struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Type          string            `json:"type"`
	Intent        string            `json:"intent,omitempty"`
	From          string            `json:"from"`
	To            []string          `json:"to"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

// Validate checks the addressing fields.
func (m *Message) Validate() error {
	var errs *multierror.Error

	if m.From == "" {
		errs = multierror.Append(errs, errors.New("from is required"))
	}
	if len(m.To) == 0 {
		errs = multierror.Append(errs, errors.New("to must contain at least one agent id"))
	}
	for i, target := range m.To {
		if target == "" {
			errs = multierror.Append(errs, fmt.Errorf("to[%d] is empty", i))
		}
	}

	return validationError(errs)
}

// Targets returns the target ids in order with duplicates removed.
func (m *Message) Targets() []string {
	seen := make(map[string]struct{}, len(m.To))
	out := make([]string, 0, len(m.To))
	for _, target := range m.To {
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// QueuedMessage is one pending delivery of a message to a single target.
//
// Delivered is set once the entry is terminal, which covers both a successful
// delivery and an exhausted retry budget. Exhausted and Error tell the two apart;
// callers must not read Delivered alone as success.
type QueuedMessage struct {
	ID             string     `json:"id"`
	Message        Message    `json:"message"`
	TargetAgentID  string     `json:"target_agent_id"`
	TargetLocation Location   `json:"target_location"`
	TargetDeviceID string     `json:"target_device_id,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    time.Time  `json:"next_retry_at"`
	Delivered      bool       `json:"delivered"`
	Exhausted      bool       `json:"exhausted"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RouteResult is the outcome of routing a message to one target.
type RouteResult struct {
	AgentID   string          `json:"agent_id"`
	Outcome   RouteOutcome    `json:"outcome"`
	Delivered bool            `json:"delivered"`
	Queued    bool            `json:"queued"`
	QueueID   string          `json:"queue_id,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RouteResponse aggregates the per-target results of one routing call.
type RouteResponse struct {
	MessageID    string        `json:"message_id"`
	Results      []RouteResult `json:"results"`
	AllDelivered bool          `json:"all_delivered"`
	AnyQueued    bool          `json:"any_queued"`
}

// NewRouteResponse builds the response and its aggregate flags.
func NewRouteResponse(messageID string, results []RouteResult) *RouteResponse {
	resp := &RouteResponse{
		MessageID:    messageID,
		Results:      results,
		AllDelivered: len(results) > 0,
	}
	for _, r := range results {
		if !r.Delivered {
			resp.AllDelivered = false
		}
		if r.Queued {
			resp.AnyQueued = true
		}
	}
	return resp
}

// Statistics are aggregate counts over the registry and the queue.
type Statistics struct {
	TotalAgents       int `json:"total_agents"`
	CloudAgents       int `json:"cloud_agents"`
	EdgeAgents        int `json:"edge_agents"`
	OnlineAgents      int `json:"online_agents"`
	OfflineAgents     int `json:"offline_agents"`
	PendingMessages   int `json:"pending_messages"`
	DeliveredMessages int `json:"delivered_messages"`
	ExhaustedMessages int `json:"exhausted_messages"`
}
