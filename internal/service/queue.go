package service

import (
	"context"
	"fmt"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

const defaultPendingLimit = 50

// GetPendingMessages lists the non-terminal queue entries of an agent, oldest
// first, regardless of whether they are due yet.
func (s *Service) GetPendingMessages(ctx context.Context, agentID string, limit int) ([]domain.QueuedMessage, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	entries, err := s.store.ListQueuedMessages(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	return entries, nil
}

func (s *Service) GetQueuedMessage(ctx context.Context, queueID string) (*domain.QueuedMessage, error) {
	entry, err := s.store.GetQueuedMessage(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued message: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("queued message %s: %w", queueID, domain.ErrNotFound)
	}
	return entry, nil
}

func (s *Service) GetStatistics(ctx context.Context) (*domain.Statistics, error) {
	stats, err := s.store.GetStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return stats, nil
}
