package testdb

import (
	"context"
	"database/sql"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3/database"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/platform/migrate"
	"github.com/phrazzld/studykit/internal/platform/postgres"
	"github.com/phrazzld/studykit/internal/platform/sqlite"
)

// OpenSQLite creates a migrated SQLite database in t.TempDir. It is closed
// when the test ends.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, database.DialectSQLite3, db, sqlite.Migrations())
	return db
}

// OpenPostgres connects to the configured PostgreSQL test database and
// migrates it. The test is skipped when no URL is configured, unless it runs
// in CI.
func OpenPostgres(t testing.TB) *sql.DB {
	t.Helper()
	url := PostgresURL(slog.Default())
	if url == "" {
		if IsCI() {
			t.Fatalf("%s must be set in CI", EnvTestDatabaseURL)
		}
		t.Skipf("%s not set; skipping PostgreSQL tests", EnvTestDatabaseURL)
	}

	db, err := postgres.Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, database.DialectPostgres, db, postgres.Migrations())
	return db
}

func applyMigrations(t testing.TB, dialect database.Dialect, db *sql.DB, fsys fs.FS) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := migrate.New(dialect, db, fsys, quiet)
	require.NoError(t, err)
	require.NoError(t, runner.Up(context.Background()))
}
