package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// Backoff returns the delay before the next attempt of an entry that has
// failed retryCount times: base * 2^retryCount, capped at limit. A zero limit
// leaves the delay uncapped.
func Backoff(base, limit time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         limit,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount && d < limit; i++ {
		d = b.NextBackOff()
	}
	return min(d, limit)
}

// ProcessPendingMessages attempts every due queue entry of agentID and returns
// how many were delivered. An offline agent or unreachable edge device leaves
// the queue untouched.
func (s *Service) ProcessPendingMessages(ctx context.Context, agentID string) (int, error) {
	unlock := s.lockAgent(agentID)
	defer unlock()

	batchSize := s.config.PendingBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	delivered := 0
	for {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return delivered, fmt.Errorf("failed to get agent: %w", err)
		}
		if agent == nil || !agent.IsOnline() {
			return delivered, nil
		}

		reachable, err := s.deviceReachable(ctx, agent)
		if err != nil {
			log.WithFields(log.Fields{
				"agent_id":  agentID,
				"device_id": agent.DeviceID,
				"error":     err,
			}).Warn("Liveness check failed, skipping pending messages")
		}
		if !reachable {
			return delivered, nil
		}

		entries, err := s.store.GetPendingMessages(ctx, agentID, s.now().UTC(), batchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to get pending messages: %w", err)
		}
		if len(entries) == 0 {
			return delivered, nil
		}

		progressed := false
		for i := range entries {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			ok, changed, err := s.retryEntry(ctx, agent, &entries[i])
			if err != nil {
				return delivered, err
			}
			if ok {
				delivered++
			}
			if changed {
				progressed = true
			}
		}

		// A full batch may hide more due entries; failed ones have moved their
		// next_retry_at forward so they are not picked again.
		if len(entries) < batchSize || !progressed {
			return delivered, nil
		}
	}
}

// retryEntry makes one delivery attempt for entry. It reports whether the entry
// was delivered and whether its row changed state.
func (s *Service) retryEntry(ctx context.Context, agent *domain.AgentRecord, entry *domain.QueuedMessage) (bool, bool, error) {
	logger := log.WithFields(log.Fields{
		"queue_id":    entry.ID,
		"message_id":  entry.Message.ID,
		"agent_id":    agent.AgentID,
		"retry_count": entry.RetryCount,
	})

	_, deliverErr := s.deliver(ctx, agent, &entry.Message)
	writeCtx := context.WithoutCancel(ctx)
	now := s.now().UTC()

	if deliverErr == nil {
		updated, err := s.store.MarkMessageDelivered(writeCtx, entry.ID, now)
		if err != nil {
			return false, false, fmt.Errorf("failed to mark message delivered: %w", err)
		}
		s.metrics.observeRetry("delivered")
		if !updated {
			logger.Debug("Queued message already settled")
			return false, false, nil
		}
		logger.Info("Delivered queued message")
		return true, true, nil
	}

	s.metrics.observeRetry("failed")
	nextRetry := entry.RetryCount + 1
	if nextRetry >= entry.MaxRetries {
		reason := fmt.Sprintf("retries exhausted after %d attempts: %v", nextRetry, deliverErr)
		updated, err := s.store.MarkMessageExhausted(writeCtx, entry.ID, entry.RetryCount, nextRetry, now, reason)
		if err != nil {
			return false, false, fmt.Errorf("failed to mark message exhausted: %w", err)
		}
		if updated {
			s.metrics.observeExhausted()
			logger.WithField("error", deliverErr).Warn("Giving up on queued message")
		}
		return false, updated, nil
	}

	next := now.Add(Backoff(s.config.BackoffBase, s.config.MaxBackoff, nextRetry))
	updated, err := s.store.UpdateMessageRetry(writeCtx, entry.ID, entry.RetryCount, nextRetry, next, deliverErr.Error())
	if err != nil {
		return false, false, fmt.Errorf("failed to reschedule message: %w", err)
	}
	if updated {
		logger.WithFields(log.Fields{
			"next_retry_at": next,
			"error":         deliverErr,
		}).Info("Rescheduled queued message")
	}
	return false, updated, nil
}
