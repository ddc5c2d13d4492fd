package helpers

import (
	"path/filepath"
	"testing"

	"github.com/JonasDEMA/agentify-os-sub002/internal/config"
	"github.com/JonasDEMA/agentify-os-sub002/internal/repository"
)

// NewTestSQLiteStore returns an in-memory store closed at the end of the test.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestFileSQLiteStore returns a store on a temporary database file opened
// with the default connection parameters.
func NewTestFileSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "relay.db") + "?" + config.DefaultDatabaseParams
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
