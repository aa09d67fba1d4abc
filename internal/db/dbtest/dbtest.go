// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/onnwee/genetarget/internal/db"
)

// OpenSQLite returns a migrated SQLite database in a per-test directory.
// The database is closed when the test ends.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	conn, err := db.Open(ctx, db.Config{
		Driver: db.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "genetarget.db"),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := db.Migrate(ctx, conn, db.DriverSQLite, logger); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}
