package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// RunPendingSweeper periodically drains the queues of online agents with due
// entries until ctx is cancelled.
func (s *Service) RunPendingSweeper(ctx context.Context) {
	interval := s.config.ProcessInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// RunQueueJanitor periodically deletes terminal queue entries older than the
// retention window until ctx is cancelled.
func (s *Service) RunQueueJanitor(ctx context.Context) {
	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupDeliveredMessages(ctx, s.config.Retention); err != nil {
				log.WithError(err).Warn("Queue cleanup failed")
			}
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Pending sweep panicked")
		}
	}()

	delivered, err := s.SweepPending(ctx)
	if err != nil {
		log.WithError(err).Warn("Pending sweep finished with errors")
	}
	if delivered > 0 {
		log.WithField("delivered", delivered).Info("Pending sweep delivered queued messages")
	}
}

// SweepPending drains every online agent that has due entries and returns the
// total number delivered. A failure on one agent does not stop the others.
func (s *Service) SweepPending(ctx context.Context) (int, error) {
	agentIDs, err := s.store.ListAgentsWithPending(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list agents with pending messages: %w", err)
	}

	var errs *multierror.Error
	total := 0
	for _, agentID := range agentIDs {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		n, err := s.ProcessPendingMessages(ctx, agentID)
		total += n
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("agent %s: %w", agentID, err))
		}
	}
	return total, errs.ErrorOrNil()
}

// CleanupDeliveredMessages deletes terminal queue entries that settled more
// than retention ago.
func (s *Service) CleanupDeliveredMessages(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	removed, err := s.store.CleanupDeliveredMessages(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up delivered messages: %w", err)
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"removed":   removed,
			"retention": retention,
		}).Info("Cleaned up settled queue entries")
	}
	return removed, nil
}
