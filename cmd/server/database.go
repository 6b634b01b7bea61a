package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3/database"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/platform/migrate"
	"github.com/phrazzld/studykit/internal/platform/postgres"
	"github.com/phrazzld/studykit/internal/platform/sqlite"
	"github.com/phrazzld/studykit/internal/store"
)

// backend is an open job store together with its migrations.
type backend struct {
	db         *sql.DB
	jobs       store.JobStore
	dialect    database.Dialect
	migrations fs.FS
}

// openBackend connects to the store selected by cfg.Driver.
func openBackend(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*backend, error) {
	logger.Info("opening job store",
		slog.String("driver", cfg.Driver),
		slog.String("url", migrate.MaskURL(cfg.URL)))

	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return &backend{
			db:         db,
			jobs:       postgres.NewPostgresJobStore(db, logger),
			dialect:    database.DialectPostgres,
			migrations: postgres.Migrations(),
		}, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return &backend{
			db:         db,
			jobs:       sqlite.NewJobStore(db, logger),
			dialect:    database.DialectSQLite3,
			migrations: sqlite.Migrations(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// migrator returns a migration runner for the backend.
func (b *backend) migrator(logger *slog.Logger) (*migrate.Runner, error) {
	return migrate.New(b.dialect, b.db, b.migrations, logger)
}

func (b *backend) Close() error {
	return b.db.Close()
}
