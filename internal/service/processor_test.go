package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

func TestSweepPendingDrainsOnlineAgents(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	online := env.register(t, cloudAgent("a1", "online"))
	env.register(t, cloudAgent("away", "offline"))
	env.transport.fail(online.Address, errUnreachable)

	_, err := env.svc.RouteMessage(ctx, newMessage("a1", "away"))
	require.NoError(t, err)
	env.transport.fail(online.Address, nil)

	n, err := env.svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "first retry is not due yet")

	env.advance(30 * time.Second)
	n, err = env.svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := env.svc.GetPendingMessages(ctx, "away", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "offline agents are left alone")
}

func TestSweepOnceSurvivesStoreErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.NoError(t, env.db.Close())

	assert.NotPanics(t, func() { env.svc.sweepOnce(context.Background()) })
	_, err := env.svc.SweepPending(context.Background())
	assert.Error(t, err)
}

func TestCleanupDeliveredMessages(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	env.register(t, cloudAgent("a1", "offline"))

	resp, err := env.svc.RouteMessage(ctx, newMessage("a1"))
	require.NoError(t, err)
	_, _, err = env.svc.UpdateAgentStatus(ctx, "a1", domain.AgentStatusOnline)
	require.NoError(t, err)

	removed, err := env.svc.CleanupDeliveredMessages(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed, "inside the retention window")

	env.advance(25 * time.Hour)
	removed, err = env.svc.CleanupDeliveredMessages(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = env.svc.GetQueuedMessage(ctx, resp.Results[0].QueueID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackgroundLoopsStopOnCancel(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.svc.config.ProcessInterval = 5 * time.Millisecond
	env.svc.config.CleanupInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		env.svc.RunPendingSweeper(ctx)
		done <- struct{}{}
	}()
	go func() {
		env.svc.RunQueueJanitor(ctx)
		done <- struct{}{}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("background loop did not stop")
		}
	}
}
