package service

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// RegisterAgent upserts the agent and, when it registers as online, drains its
// pending queue. It returns the stored record and the number of queued
// messages delivered by that drain.
func (s *Service) RegisterAgent(ctx context.Context, req domain.RegisterAgentRequest) (*domain.AgentRecord, int, error) {
	agent, err := req.ToRecord()
	if err != nil {
		return nil, 0, err
	}
	agent.LastSeen = s.now().UTC()

	if err := s.store.RegisterAgent(ctx, agent); err != nil {
		return nil, 0, fmt.Errorf("failed to register agent: %w", err)
	}

	log.WithFields(log.Fields{
		"agent_id": agent.AgentID,
		"location": agent.Location,
		"status":   agent.Status,
	}).Info("Registered agent")

	flushed := s.flushIfOnline(ctx, agent.AgentID, agent.Status)
	return agent, flushed, nil
}

// UpdateAgentStatus changes the reachability of an agent. Going online drains
// the pending queue.
func (s *Service) UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) (*domain.AgentRecord, int, error) {
	status, err := domain.ParseAgentStatus(string(status))
	if err != nil {
		return nil, 0, err
	}

	updated, err := s.store.UpdateAgentStatus(ctx, agentID, status, s.now().UTC())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to update agent status: %w", err)
	}
	if !updated {
		return nil, 0, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}

	log.WithFields(log.Fields{
		"agent_id": agentID,
		"status":   status,
	}).Info("Agent status changed")

	flushed := s.flushIfOnline(ctx, agentID, status)

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, flushed, err
	}
	return agent, flushed, nil
}

// flushIfOnline drains the queue of an agent that just became reachable. A
// failed drain is logged; the sweeper picks the remaining entries up later.
func (s *Service) flushIfOnline(ctx context.Context, agentID string, status domain.AgentStatus) int {
	if status != domain.AgentStatusOnline {
		return 0
	}
	flushed, err := s.ProcessPendingMessages(ctx, agentID)
	if err != nil {
		log.WithFields(log.Fields{
			"agent_id": agentID,
			"error":    err,
		}).Warn("Failed to flush pending messages")
	}
	return flushed
}

// UnregisterAgent removes the agent. Its queued messages stay in the store and
// drain if the agent registers again. The agent's drain lock is kept so a
// drain still running cannot overlap one started after re-registration.
func (s *Service) UnregisterAgent(ctx context.Context, agentID string) error {
	removed, err := s.store.UnregisterAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to unregister agent: %w", err)
	}
	if !removed {
		return fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}

	log.WithField("agent_id", agentID).Info("Unregistered agent")
	return nil
}

func (s *Service) GetAgent(ctx context.Context, agentID string) (*domain.AgentRecord, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return agent, nil
}

func (s *Service) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// DiscoverAgents returns online agents matching filter, most recently seen first.
func (s *Service) DiscoverAgents(ctx context.Context, filter domain.AgentFilter) ([]domain.AgentRecord, error) {
	if filter.Location != "" {
		loc, err := domain.ParseLocation(string(filter.Location))
		if err != nil {
			return nil, err
		}
		filter.Location = loc
	}
	filter.Capabilities = domain.NormalizeCapabilities(filter.Capabilities)
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrValidation)
	}

	agents, err := s.store.DiscoverAgents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to discover agents: %w", err)
	}
	return agents, nil
}
