// Package service implements the relay: agent registry operations, message
// routing with offline queuing, and the background retry processor.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/JonasDEMA/agentify-os-sub002/internal/config"
	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
	"github.com/JonasDEMA/agentify-os-sub002/internal/repository"
	"github.com/JonasDEMA/agentify-os-sub002/policy"
)

// Transport delivers a message to an agent address.
type Transport interface {
	Deliver(ctx context.Context, address string, msg *domain.Message) (json.RawMessage, error)
}

// LivenessChecker reports whether an edge device is reachable.
type LivenessChecker interface {
	IsOnline(ctx context.Context, deviceID string) (bool, error)
}

// DeliveryPolicy decides the retry budget of a queued delivery.
type DeliveryPolicy interface {
	MaxRetries(ctx context.Context, input policy.Input) (int, error)
}

type Service struct {
	store        store.Store
	transport    Transport
	liveness     LivenessChecker
	config       *config.Config
	policyEngine DeliveryPolicy
	metrics      *Metrics

	// agentLocks serializes queue drains per agent.
	agentLocks sync.Map

	now func() time.Time
}

// New wires the relay service. policyEngine and metrics may be nil.
func New(store store.Store, transport Transport, liveness LivenessChecker, cfg *config.Config, policyEngine DeliveryPolicy, metrics *Metrics) *Service {
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Service{
		store:        store,
		transport:    transport,
		liveness:     liveness,
		config:       cfg,
		policyEngine: policyEngine,
		metrics:      metrics,
		now:          time.Now,
	}
}

func (s *Service) lockAgent(agentID string) func() {
	v, _ := s.agentLocks.LoadOrStore(agentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
