// Package domain defines the core domain models for the relay.
package domain

import (
	"fmt"
	"strings"
)

// Location tells where an agent runs.
type Location string

const (
	LocationCloud Location = "cloud"
	LocationEdge  Location = "edge"
)

// ParseLocation parses a location name, ignoring case.
func ParseLocation(s string) (Location, error) {
	switch Location(strings.ToLower(strings.TrimSpace(s))) {
	case LocationCloud:
		return LocationCloud, nil
	case LocationEdge:
		return LocationEdge, nil
	default:
		return "", fmt.Errorf("%w: unknown location %q", ErrValidation, s)
	}
}

// AgentStatus is the last known reachability of an agent.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// ParseAgentStatus parses a status name, ignoring case.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case AgentStatusOnline:
		return AgentStatusOnline, nil
	case AgentStatusOffline:
		return AgentStatusOffline, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

// RouteOutcome is the per-target result of routing a message.
type RouteOutcome string

const (
	// RouteOutcomeDelivered means the target answered the delivery.
	RouteOutcomeDelivered RouteOutcome = "delivered"
	// RouteOutcomeQueued means the message was stored for a later retry.
	RouteOutcomeQueued RouteOutcome = "queued"
	// RouteOutcomeNotFound means no agent is registered under the target id.
	RouteOutcomeNotFound RouteOutcome = "not_found"
	// RouteOutcomeFailed means the message could neither be delivered nor queued.
	RouteOutcomeFailed RouteOutcome = "failed"
)
