package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
	"github.com/JonasDEMA/agentify-os-sub002/policy"
)

const (
	errAgentNotFound = "agent not found"

	// maxRouteFanout bounds concurrent target deliveries of one message.
	maxRouteFanout = 16
)

// RouteMessage routes msg to each of its targets independently and returns one
// result per entry of msg.To, in order. A target listed more than once is
// routed once and its result repeated.
func (s *Service) RouteMessage(ctx context.Context, msg *domain.Message) (*domain.RouteResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	targets := msg.Targets()
	routed := make([]domain.RouteResult, len(targets))

	var g errgroup.Group
	g.SetLimit(maxRouteFanout)
	for i, target := range targets {
		g.Go(func() error {
			routed[i] = s.routeToTarget(ctx, msg, target)
			return nil
		})
	}
	_ = g.Wait()

	byTarget := make(map[string]domain.RouteResult, len(targets))
	for _, r := range routed {
		byTarget[r.AgentID] = r
	}
	results := make([]domain.RouteResult, len(msg.To))
	for i, target := range msg.To {
		results[i] = byTarget[target]
	}

	resp := domain.NewRouteResponse(msg.ID, results)
	log.WithFields(log.Fields{
		"message_id":    msg.ID,
		"from":          msg.From,
		"targets":       len(targets),
		"all_delivered": resp.AllDelivered,
		"any_queued":    resp.AnyQueued,
	}).Debug("Routed message")
	return resp, nil
}

func (s *Service) routeToTarget(ctx context.Context, msg *domain.Message, targetID string) domain.RouteResult {
	result := domain.RouteResult{AgentID: targetID}

	agent, err := s.store.GetAgent(ctx, targetID)
	if err != nil {
		result.Outcome = domain.RouteOutcomeFailed
		result.Error = fmt.Sprintf("failed to look up agent: %v", err)
		s.metrics.observeRoute(result.Outcome, "")
		return result
	}
	if agent == nil {
		result.Outcome = domain.RouteOutcomeNotFound
		result.Error = errAgentNotFound
		s.metrics.observeRoute(result.Outcome, "")
		return result
	}

	if !agent.IsOnline() {
		return s.enqueueResult(ctx, msg, agent, 0, "")
	}

	reachable, err := s.deviceReachable(ctx, agent)
	if err != nil {
		log.WithFields(log.Fields{
			"agent_id":  agent.AgentID,
			"device_id": agent.DeviceID,
			"error":     err,
		}).Warn("Liveness check failed, queuing message")
	}
	if !reachable {
		return s.enqueueResult(ctx, msg, agent, 0, "")
	}

	response, err := s.deliver(ctx, agent, msg)
	if err != nil {
		log.WithFields(log.Fields{
			"message_id": msg.ID,
			"agent_id":   agent.AgentID,
			"error":      err,
		}).Info("Delivery failed, queuing message for retry")
		queued := s.enqueueResult(ctx, msg, agent, Backoff(s.config.BackoffBase, s.config.MaxBackoff, 0), err.Error())
		if queued.Queued {
			queued.Error = err.Error()
		}
		return queued
	}

	result.Outcome = domain.RouteOutcomeDelivered
	result.Delivered = true
	result.Response = response
	s.metrics.observeRoute(result.Outcome, agent.Location)
	return result
}

// enqueueResult queues msg for agent with the first attempt due after delay.
func (s *Service) enqueueResult(ctx context.Context, msg *domain.Message, agent *domain.AgentRecord, delay time.Duration, reason string) domain.RouteResult {
	result := domain.RouteResult{AgentID: agent.AgentID}

	entry, err := s.enqueue(ctx, msg, agent, delay, reason)
	if err != nil {
		log.WithFields(log.Fields{
			"message_id": msg.ID,
			"agent_id":   agent.AgentID,
			"error":      err,
		}).Error("Failed to queue message")
		result.Outcome = domain.RouteOutcomeFailed
		result.Error = err.Error()
		s.metrics.observeRoute(result.Outcome, agent.Location)
		return result
	}

	result.Outcome = domain.RouteOutcomeQueued
	result.Queued = true
	result.QueueID = entry.ID
	s.metrics.observeRoute(result.Outcome, agent.Location)
	return result
}

func (s *Service) enqueue(ctx context.Context, msg *domain.Message, agent *domain.AgentRecord, delay time.Duration, reason string) (*domain.QueuedMessage, error) {
	now := s.now().UTC()
	entry := &domain.QueuedMessage{
		ID:             newQueueID(),
		Message:        *msg,
		TargetAgentID:  agent.AgentID,
		TargetLocation: agent.Location,
		TargetDeviceID: agent.DeviceID,
		MaxRetries:     s.maxRetries(ctx, msg, agent),
		NextRetryAt:    now.Add(delay),
		Error:          reason,
		CreatedAt:      now,
	}

	// The caller has been promised a queued entry once delivery was attempted.
	if err := s.store.QueueMessage(context.WithoutCancel(ctx), entry); err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}
	return entry, nil
}

func (s *Service) maxRetries(ctx context.Context, msg *domain.Message, agent *domain.AgentRecord) int {
	fallback := s.config.MaxRetries
	if s.policyEngine == nil {
		return fallback
	}
	n, err := s.policyEngine.MaxRetries(ctx, policy.Input{
		MessageType:       msg.Type,
		Intent:            msg.Intent,
		From:              msg.From,
		TargetAgentID:     agent.AgentID,
		TargetLocation:    string(agent.Location),
		DefaultMaxRetries: fallback,
	})
	if err != nil {
		log.WithFields(log.Fields{
			"agent_id": agent.AgentID,
			"error":    err,
		}).Warn("Delivery policy evaluation failed, using configured retry budget")
		return fallback
	}
	return n
}

// deviceReachable confirms the hosting device of an edge agent. Cloud agents
// are always considered reachable.
func (s *Service) deviceReachable(ctx context.Context, agent *domain.AgentRecord) (bool, error) {
	if agent.Location != domain.LocationEdge || s.liveness == nil {
		return true, nil
	}
	return s.liveness.IsOnline(ctx, agent.DeviceID)
}

func (s *Service) deliver(ctx context.Context, agent *domain.AgentRecord, msg *domain.Message) (json.RawMessage, error) {
	started := time.Now()
	response, err := s.transport.Deliver(ctx, agent.Address, msg)
	s.metrics.observeDelivery(agent.Location, started)
	if err != nil {
		return nil, err
	}
	s.touchAgent(ctx, agent.AgentID)
	return response, nil
}

func newMessageID() string {
	return "msg_" + uuid.New().String()
}

func newQueueID() string {
	return "q_" + uuid.New().String()
}

// touchAgent records a successful contact with the agent.
func (s *Service) touchAgent(ctx context.Context, agentID string) {
	if _, err := s.store.UpdateAgentStatus(context.WithoutCancel(ctx), agentID, domain.AgentStatusOnline, s.now().UTC()); err != nil {
		log.WithFields(log.Fields{
			"agent_id": agentID,
			"error":    err,
		}).Warn("Failed to refresh agent last_seen")
	}
}
