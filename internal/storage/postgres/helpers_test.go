// Package postgres provides a PostgreSQL implementation of storage interfaces.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
)

// TruncateForTest removes all rows from the memories table.
// It is defined in the postgres package so it can reach the unexported db
// field, and exported so that the postgres_test package can call it.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate memories: %w", err)
	}
	return nil
}

// openTestDB opens the store named by POSTGRES_TEST_DSN for in-package
// tests, skipping when it is not set.
func openTestDB(t *testing.T) *MemoryStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	store, err := NewMemoryStore(dsn)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
