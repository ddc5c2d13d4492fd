package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

// SQLiteStore implements Store using SQLite.
//
// Timestamps are stored as INTEGER unix nanoseconds so that range filters and
// ordering compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL,
			address TEXT NOT NULL,
			device_id TEXT,
			tenant_id TEXT NOT NULL DEFAULT '',
			capabilities TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			metadata TEXT,
			last_seen INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status_seen ON agents(status, last_seen)`,
		`CREATE TABLE IF NOT EXISTS agent_capabilities (
			agent_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			PRIMARY KEY (agent_id, capability)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_capabilities_cap ON agent_capabilities(capability)`,
		`CREATE TABLE IF NOT EXISTS queued_messages (
			id TEXT PRIMARY KEY,
			message TEXT NOT NULL,
			target_agent_id TEXT NOT NULL,
			target_location TEXT NOT NULL,
			target_device_id TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL,
			next_retry_at INTEGER NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			exhausted INTEGER NOT NULL DEFAULT 0,
			delivered_at INTEGER,
			error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_pending ON queued_messages(target_agent_id, delivered, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_cleanup ON queued_messages(delivered, delivered_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const agentColumns = `agent_id, name, location, address, device_id, tenant_id, capabilities, status, metadata, last_seen, created_at`

// RegisterAgent inserts or replaces the record for agent.AgentID.
// CreatedAt survives re-registration; LastSeen defaults to now.
func (s *SQLiteStore) RegisterAgent(ctx context.Context, agent *domain.AgentRecord) error {
	if agent.LastSeen.IsZero() {
		agent.LastSeen = time.Now()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = agent.LastSeen
	}
	agent.Capabilities = domain.NormalizeCapabilities(agent.Capabilities)
	caps, _ := json.Marshal(agent.Capabilities)
	var metadata []byte
	if len(agent.Metadata) > 0 {
		metadata, _ = json.Marshal(agent.Metadata)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			address = excluded.address,
			device_id = excluded.device_id,
			tenant_id = excluded.tenant_id,
			capabilities = excluded.capabilities,
			status = excluded.status,
			metadata = excluded.metadata,
			last_seen = excluded.last_seen`,
		agent.AgentID, agent.Name, agent.Location, agent.Address, nullString(agent.DeviceID), agent.TenantID,
		string(caps), agent.Status, nullStringBytes(metadata), toNanos(agent.LastSeen), toNanos(agent.CreatedAt))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_capabilities WHERE agent_id = ?`, agent.AgentID); err != nil {
		return err
	}
	for _, c := range agent.Capabilities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_capabilities (agent_id, capability) VALUES (?, ?)`, agent.AgentID, c); err != nil {
			return err
		}
	}

	var createdAt int64
	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM agents WHERE agent_id = ?`, agent.AgentID).Scan(&createdAt); err != nil {
		return err
	}
	agent.CreatedAt = fromNanos(createdAt)

	return tx.Commit()
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents lists all agents, most recently seen first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.AgentRecord, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY last_seen DESC, agent_id ASC`)
}

// DiscoverAgents returns online agents matching the filter, most recently seen first.
func (s *SQLiteStore) DiscoverAgents(ctx context.Context, filter domain.AgentFilter) ([]domain.AgentRecord, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a WHERE a.status = ?`
	args := []interface{}{domain.AgentStatusOnline}

	if filter.Location != "" {
		query += ` AND a.location = ?`
		args = append(args, filter.Location)
	}
	if filter.TenantID != "" {
		query += ` AND a.tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if caps := domain.NormalizeCapabilities(filter.Capabilities); len(caps) > 0 {
		placeholders := make([]string, len(caps))
		for i, c := range caps {
			placeholders[i] = "?"
			args = append(args, c)
		}
		query += ` AND EXISTS (SELECT 1 FROM agent_capabilities c WHERE c.agent_id = a.agent_id AND c.capability IN (` +
			strings.Join(placeholders, ", ") + `))`
	}

	query += ` ORDER BY a.last_seen DESC, a.agent_id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryAgents(ctx, query, args...)
}

// UpdateAgentStatus sets the status and last_seen of an agent.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, last_seen = ? WHERE agent_id = ?`,
		status, toNanos(seenAt), agentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UnregisterAgent deletes an agent and its capability rows. Queued messages are kept.
func (s *SQLiteStore) UnregisterAgent(ctx context.Context, agentID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_capabilities WHERE agent_id = ?`, agentID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...interface{}) ([]domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []domain.AgentRecord{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.AgentRecord, error) {
	var agent domain.AgentRecord
	var deviceID, metadata sql.NullString
	var caps string
	var lastSeen, createdAt int64
	if err := row.Scan(&agent.AgentID, &agent.Name, &agent.Location, &agent.Address, &deviceID, &agent.TenantID,
		&caps, &agent.Status, &metadata, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	agent.DeviceID = deviceID.String
	if err := json.Unmarshal([]byte(caps), &agent.Capabilities); err != nil {
		log.WithFields(log.Fields{
			"agent_id": agent.AgentID,
			"error":    err,
		}).Warn("Stored capabilities are not valid JSON")
	}
	if agent.Capabilities == nil {
		agent.Capabilities = []string{}
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &agent.Metadata)
	}
	agent.LastSeen = fromNanos(lastSeen)
	agent.CreatedAt = fromNanos(createdAt)
	return &agent, nil
}

const queueColumns = `id, message, target_agent_id, target_location, target_device_id, retry_count, max_retries, next_retry_at, delivered, exhausted, delivered_at, error, created_at`

// QueueMessage inserts a new pending entry with retry_count 0.
func (s *SQLiteStore) QueueMessage(ctx context.Context, entry *domain.QueuedMessage) error {
	entry.RetryCount = 0
	entry.Delivered = false
	entry.Exhausted = false
	entry.DeliveredAt = nil
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.NextRetryAt.IsZero() {
		entry.NextRetryAt = entry.CreatedAt
	}

	msg, err := json.Marshal(entry.Message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queued_messages (`+queueColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?, 0, 0, NULL, ?, ?)`,
		entry.ID, string(msg), entry.TargetAgentID, entry.TargetLocation, nullString(entry.TargetDeviceID),
		entry.MaxRetries, toNanos(entry.NextRetryAt), nullString(entry.Error), toNanos(entry.CreatedAt))
	return err
}

// GetQueuedMessage retrieves a queue entry by ID.
func (s *SQLiteStore) GetQueuedMessage(ctx context.Context, id string) (*domain.QueuedMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queued_messages WHERE id = ?`, id)
	entry, err := scanQueued(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetPendingMessages returns the non-terminal entries of an agent that are due at now,
// oldest first.
func (s *SQLiteStore) GetPendingMessages(ctx context.Context, agentID string, now time.Time, limit int) ([]domain.QueuedMessage, error) {
	return s.queryQueued(ctx,
		`SELECT `+queueColumns+` FROM queued_messages
		 WHERE target_agent_id = ? AND delivered = 0 AND next_retry_at <= ?
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT ?`,
		agentID, toNanos(now), limit)
}

// ListQueuedMessages returns all non-terminal entries of an agent, oldest first.
func (s *SQLiteStore) ListQueuedMessages(ctx context.Context, agentID string, limit int) ([]domain.QueuedMessage, error) {
	return s.queryQueued(ctx,
		`SELECT `+queueColumns+` FROM queued_messages
		 WHERE target_agent_id = ? AND delivered = 0
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT ?`,
		agentID, limit)
}

// ListAgentsWithPending returns the online agents that have at least one due entry,
// ordered by their oldest due entry.
func (s *SQLiteStore) ListAgentsWithPending(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.target_agent_id FROM queued_messages q
		 JOIN agents a ON a.agent_id = q.target_agent_id
		 WHERE q.delivered = 0 AND q.next_retry_at <= ? AND a.status = ?
		 GROUP BY q.target_agent_id
		 ORDER BY MIN(q.created_at) ASC`,
		toNanos(now), domain.AgentStatusOnline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkMessageDelivered marks a non-terminal entry as delivered.
func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.execAffected(ctx,
		`UPDATE queued_messages SET delivered = 1, delivered_at = ?, error = NULL WHERE id = ? AND delivered = 0`,
		toNanos(at), id)
}

// UpdateMessageRetry records a failed attempt and schedules the next one.
// The update only applies while the entry is pending with retry_count == fromRetry.
func (s *SQLiteStore) UpdateMessageRetry(ctx context.Context, id string, fromRetry, toRetry int, nextRetryAt time.Time, errMsg string) (bool, error) {
	return s.execAffected(ctx,
		`UPDATE queued_messages SET retry_count = ?, next_retry_at = ?, error = ?
		 WHERE id = ? AND delivered = 0 AND retry_count = ?`,
		toRetry, toNanos(nextRetryAt), nullString(errMsg), id, fromRetry)
}

// MarkMessageExhausted makes an entry terminal after its last failed attempt.
func (s *SQLiteStore) MarkMessageExhausted(ctx context.Context, id string, fromRetry, toRetry int, at time.Time, errMsg string) (bool, error) {
	return s.execAffected(ctx,
		`UPDATE queued_messages SET retry_count = ?, delivered = 1, exhausted = 1, delivered_at = ?, error = ?
		 WHERE id = ? AND delivered = 0 AND retry_count = ?`,
		toRetry, toNanos(at), nullString(errMsg), id, fromRetry)
}

// CleanupDeliveredMessages deletes terminal entries that became terminal before the cutoff.
func (s *SQLiteStore) CleanupDeliveredMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_messages WHERE delivered = 1 AND delivered_at IS NOT NULL AND delivered_at < ?`,
		toNanos(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetStatistics counts agents and queue entries.
func (s *SQLiteStore) GetStatistics(ctx context.Context) (*domain.Statistics, error) {
	var stats domain.Statistics
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN location = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN location = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM agents`,
		domain.LocationCloud, domain.LocationEdge, domain.AgentStatusOnline, domain.AgentStatusOffline).
		Scan(&stats.TotalAgents, &stats.CloudAgents, &stats.EdgeAgents, &stats.OnlineAgents, &stats.OfflineAgents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN delivered = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN delivered = 1 AND exhausted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN exhausted = 1 THEN 1 ELSE 0 END), 0)
		 FROM queued_messages`).
		Scan(&stats.PendingMessages, &stats.DeliveredMessages, &stats.ExhaustedMessages)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *SQLiteStore) queryQueued(ctx context.Context, query string, args ...interface{}) ([]domain.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.QueuedMessage{}
	for rows.Next() {
		entry, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func scanQueued(row rowScanner) (*domain.QueuedMessage, error) {
	var entry domain.QueuedMessage
	var msg string
	var deviceID, errMsg sql.NullString
	var deliveredAt sql.NullInt64
	var nextRetryAt, createdAt int64
	if err := row.Scan(&entry.ID, &msg, &entry.TargetAgentID, &entry.TargetLocation, &deviceID,
		&entry.RetryCount, &entry.MaxRetries, &nextRetryAt, &entry.Delivered, &entry.Exhausted,
		&deliveredAt, &errMsg, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(msg), &entry.Message); err != nil {
		return nil, fmt.Errorf("failed to decode queued message %s: %w", entry.ID, err)
	}
	entry.TargetDeviceID = deviceID.String
	entry.Error = errMsg.String
	entry.NextRetryAt = fromNanos(nextRetryAt)
	entry.CreatedAt = fromNanos(createdAt)
	if deliveredAt.Valid {
		t := fromNanos(deliveredAt.Int64)
		entry.DeliveredAt = &t
	}
	return &entry, nil
}

func (s *SQLiteStore) execAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
