package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func cloudAgent(id string, caps ...string) *domain.AgentRecord {
	return &domain.AgentRecord{
		AgentID:      id,
		Location:     domain.LocationCloud,
		Address:      "http://" + id + ".agents.local",
		TenantID:     "t1",
		Capabilities: caps,
		Status:       domain.AgentStatusOnline,
	}
}

func queued(id, agentID string, createdAt time.Time) *domain.QueuedMessage {
	return &domain.QueuedMessage{
		ID:             id,
		Message:        domain.Message{ID: "m-" + id, From: "producer", To: []string{agentID}, Payload: json.RawMessage(`{"n":1}`)},
		TargetAgentID:  agentID,
		TargetLocation: domain.LocationEdge,
		TargetDeviceID: "pi-1",
		MaxRetries:     3,
		NextRetryAt:    createdAt,
		CreatedAt:      createdAt,
	}
}

func TestSQLiteStoreAgents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agent := cloudAgent("a1", "x", "y")
	agent.Metadata = map[string]string{"version": "1.2"}
	if err := store.RegisterAgent(ctx, agent); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	gotAgent, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if gotAgent == nil || gotAgent.AgentID != "a1" {
		t.Fatalf("unexpected agent: %+v", gotAgent)
	}
	assert.Equal(t, []string{"x", "y"}, gotAgent.Capabilities)
	assert.Equal(t, "1.2", gotAgent.Metadata["version"])
	assert.False(t, gotAgent.LastSeen.IsZero())

	missing, err := store.GetAgent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
}

func TestRegisterAgentUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := cloudAgent("a1", "x")
	first.LastSeen = time.Unix(100, 0)
	require.NoError(t, store.RegisterAgent(ctx, first))

	second := cloudAgent("a1", "z")
	second.Address = "http://moved.agents.local"
	second.LastSeen = time.Unix(200, 0)
	require.NoError(t, store.RegisterAgent(ctx, second))

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "http://moved.agents.local", agents[0].Address)
	assert.Equal(t, []string{"z"}, agents[0].Capabilities)
	assert.True(t, agents[0].LastSeen.Equal(time.Unix(200, 0)))
	assert.True(t, agents[0].CreatedAt.Equal(time.Unix(100, 0)), "created_at survives re-registration")
	assert.True(t, second.CreatedAt.Equal(time.Unix(100, 0)))

	// The old capability no longer matches.
	found, err := store.DiscoverAgents(ctx, domain.AgentFilter{Capabilities: []string{"x"}})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverAgents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := cloudAgent("a", "x")
	a.LastSeen = time.Unix(300, 0)
	b := cloudAgent("b", "y", "z")
	b.LastSeen = time.Unix(400, 0)
	c := cloudAgent("c", "x")
	c.Status = domain.AgentStatusOffline
	c.LastSeen = time.Unix(500, 0)
	d := &domain.AgentRecord{
		AgentID:      "d",
		Location:     domain.LocationEdge,
		Address:      "http://100.64.0.9:9000",
		DeviceID:     "pi-9",
		TenantID:     "t2",
		Capabilities: []string{"x", "z"},
		Status:       domain.AgentStatusOnline,
		LastSeen:     time.Unix(600, 0),
	}
	for _, agent := range []*domain.AgentRecord{a, b, c, d} {
		require.NoError(t, store.RegisterAgent(ctx, agent))
	}

	ids := func(agents []domain.AgentRecord) []string {
		out := make([]string, len(agents))
		for i, agent := range agents {
			out[i] = agent.AgentID
		}
		return out
	}

	all, err := store.DiscoverAgents(ctx, domain.AgentFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "a"}, ids(all), "online only, most recent first")

	byCap, err := store.DiscoverAgents(ctx, domain.AgentFilter{Capabilities: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, ids(byCap), "offline c is never returned")

	intersect, err := store.DiscoverAgents(ctx, domain.AgentFilter{Capabilities: []string{"z", "missing"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b"}, ids(intersect), "one overlapping tag is enough")

	edge, err := store.DiscoverAgents(ctx, domain.AgentFilter{Capabilities: []string{"x"}, Location: domain.LocationEdge})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(edge))

	tenant, err := store.DiscoverAgents(ctx, domain.AgentFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(tenant))

	limited, err := store.DiscoverAgents(ctx, domain.AgentFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(limited))
}

func TestUpdateStatusAndUnregister(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.RegisterAgent(ctx, cloudAgent("a1", "x")))

	seen := time.Unix(1000, 0)
	ok, err := store.UpdateAgentStatus(ctx, "a1", domain.AgentStatusOffline, seen)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusOffline, got.Status)
	assert.True(t, got.LastSeen.Equal(seen))
	assert.Equal(t, []string{"x"}, got.Capabilities, "status update leaves other fields alone")

	ok, err = store.UpdateAgentStatus(ctx, "ghost", domain.AgentStatusOnline, seen)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.UnregisterAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err = store.UnregisterAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Unix(10_000, 0)
	require.NoError(t, store.QueueMessage(ctx, queued("q1", "edge-1", base)))
	require.NoError(t, store.QueueMessage(ctx, queued("q2", "edge-1", base.Add(time.Second))))
	later := queued("q3", "edge-1", base.Add(2*time.Second))
	later.NextRetryAt = base.Add(time.Hour)
	require.NoError(t, store.QueueMessage(ctx, later))
	require.NoError(t, store.QueueMessage(ctx, queued("other", "edge-2", base)))

	pending, err := store.GetPendingMessages(ctx, "edge-1", base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "q1", pending[0].ID, "oldest first")
	assert.Equal(t, "q2", pending[1].ID)
	assert.Equal(t, "producer", pending[0].Message.From)
	assert.Equal(t, "pi-1", pending[0].TargetDeviceID)
	assert.Equal(t, 0, pending[0].RetryCount)

	all, err := store.ListQueuedMessages(ctx, "edge-1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3, "listing ignores next_retry_at")

	limited, err := store.GetPendingMessages(ctx, "edge-1", base.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	next := base.Add(2 * time.Minute)
	ok, err := store.UpdateMessageRetry(ctx, "q1", 0, 1, next, "connection refused")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateMessageRetry(ctx, "q1", 0, 1, next, "stale writer")
	require.NoError(t, err)
	assert.False(t, ok, "retry update requires the expected retry_count")

	got, err := store.GetQueuedMessage(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.NextRetryAt.Equal(next))
	assert.Equal(t, "connection refused", got.Error)

	ok, err = store.MarkMessageDelivered(ctx, "q2", base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkMessageDelivered(ctx, "q2", base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "terminal entries are immutable")

	ok, err = store.MarkMessageExhausted(ctx, "q1", 1, 2, base.Add(3*time.Minute), "gave up")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetQueuedMessage(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, got.Delivered)
	assert.True(t, got.Exhausted)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.DeliveredAt)
	assert.Equal(t, "gave up", got.Error)

	pending, err = store.GetPendingMessages(ctx, "edge-1", base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q3", pending[0].ID)

	missing, err := store.GetQueuedMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListAgentsWithPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	online := cloudAgent("online")
	offline := cloudAgent("offline")
	offline.Status = domain.AgentStatusOffline
	require.NoError(t, store.RegisterAgent(ctx, online))
	require.NoError(t, store.RegisterAgent(ctx, offline))

	now := time.Unix(50_000, 0)
	require.NoError(t, store.QueueMessage(ctx, queued("q1", "online", now.Add(-time.Minute))))
	require.NoError(t, store.QueueMessage(ctx, queued("q2", "offline", now.Add(-time.Minute))))
	require.NoError(t, store.QueueMessage(ctx, queued("q3", "unregistered", now.Add(-time.Minute))))

	ids, err := store.ListAgentsWithPending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"online"}, ids)

	ids, err = store.ListAgentsWithPending(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing is due yet")
}

func TestCleanupAndStatistics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	edge := &domain.AgentRecord{
		AgentID:  "e1",
		Location: domain.LocationEdge,
		Address:  "http://100.64.0.2:9000",
		DeviceID: "pi-1",
		Status:   domain.AgentStatusOffline,
	}
	require.NoError(t, store.RegisterAgent(ctx, cloudAgent("c1")))
	require.NoError(t, store.RegisterAgent(ctx, edge))

	now := time.Unix(90_000, 0)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.QueueMessage(ctx, queued(fmt.Sprintf("q%d", i), "e1", now)))
	}
	_, err := store.MarkMessageDelivered(ctx, "q0", now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.MarkMessageExhausted(ctx, "q1", 0, 1, now.Add(-30*time.Hour), "boom")
	require.NoError(t, err)
	_, err = store.MarkMessageDelivered(ctx, "q2", now.Add(-time.Hour))
	require.NoError(t, err)

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Statistics{
		TotalAgents:       2,
		CloudAgents:       1,
		EdgeAgents:        1,
		OnlineAgents:      1,
		OfflineAgents:     1,
		PendingMessages:   1,
		DeliveredMessages: 2,
		ExhaustedMessages: 1,
	}, *stats)

	deleted, err := store.CleanupDeliveredMessages(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	got, err := store.GetQueuedMessage(ctx, "q2")
	require.NoError(t, err)
	assert.NotNil(t, got, "inside the retention window")
	got, err = store.GetQueuedMessage(ctx, "q3")
	require.NoError(t, err)
	assert.NotNil(t, got, "pending entries are never cleaned up")
}

func TestStatisticsEmpty(t *testing.T) {
	stats, err := newTestStore(t).GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Statistics{}, *stats)
}

func TestConcurrentStatusUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.RegisterAgent(ctx, cloudAgent("a1")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.AgentStatusOnline
			if i%2 == 0 {
				status = domain.AgentStatusOffline
			}
			_, err := store.UpdateAgentStatus(ctx, "a1", status, time.Now())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Contains(t, []domain.AgentStatus{domain.AgentStatusOnline, domain.AgentStatusOffline}, got.Status)
}
