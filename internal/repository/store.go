// Package store defines the registry storage interface and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// Store defines the interface for data persistence.
//
// Lookups return (nil, nil) for unknown ids. Conditional updates return false
// when the row is missing or no longer in the expected state.
type Store interface {
	// Agent operations
	RegisterAgent(ctx context.Context, agent *domain.AgentRecord) error
	GetAgent(ctx context.Context, agentID string) (*domain.AgentRecord, error)
	ListAgents(ctx context.Context) ([]domain.AgentRecord, error)
	DiscoverAgents(ctx context.Context, filter domain.AgentFilter) ([]domain.AgentRecord, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, seenAt time.Time) (bool, error)
	UnregisterAgent(ctx context.Context, agentID string) (bool, error)

	// Queue operations
	QueueMessage(ctx context.Context, entry *domain.QueuedMessage) error
	GetQueuedMessage(ctx context.Context, id string) (*domain.QueuedMessage, error)
	GetPendingMessages(ctx context.Context, agentID string, now time.Time, limit int) ([]domain.QueuedMessage, error)
	ListQueuedMessages(ctx context.Context, agentID string, limit int) ([]domain.QueuedMessage, error)
	ListAgentsWithPending(ctx context.Context, now time.Time) ([]string, error)
	MarkMessageDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateMessageRetry(ctx context.Context, id string, fromRetry, toRetry int, nextRetryAt time.Time, errMsg string) (bool, error)
	MarkMessageExhausted(ctx context.Context, id string, fromRetry, toRetry int, at time.Time, errMsg string) (bool, error)
	CleanupDeliveredMessages(ctx context.Context, before time.Time) (int64, error)

	// Statistics
	GetStatistics(ctx context.Context) (*domain.Statistics, error)

	// Lifecycle
	Close() error
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
