// Package migrate applies the embedded goose migrations of a job store backend.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// TableName is the goose version table shared by both backends.
const TableName = "schema_migrations"

// Commands lists the migration commands accepted by Runner.Run.
var Commands = []string{"up", "down", "reset", "status", "version"}

// ErrUnknownCommand is returned by Run for a command outside Commands.
var ErrUnknownCommand = errors.New("unknown migration command")

// Runner executes migrations for one database.
type Runner struct {
	provider *goose.Provider
	logger   *slog.Logger
}

// New creates a Runner for the migrations in fsys. dialect is a goose
// dialect such as database.DialectPostgres or database.DialectSQLite3.
func New(dialect database.Dialect, db *sql.DB, fsys fs.FS, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	versions, err := database.NewStore(dialect, TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration store: %w", err)
	}
	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(versions))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return &Runner{
		provider: provider,
		logger:   logger.With(slog.String("component", "migrations")),
	}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.logResults(results...)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.logResults(result)
	}
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Reset rolls back every applied migration.
func (r *Runner) Reset(ctx context.Context) error {
	results, err := r.provider.DownTo(ctx, 0)
	r.logResults(results...)
	if err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}

// Status reports the state of every known migration.
func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, s := range statuses {
		attrs := []any{
			slog.Int64("version", s.Source.Version),
			slog.String("state", string(s.State)),
		}
		if !s.AppliedAt.IsZero() {
			attrs = append(attrs, slog.Time("applied_at", s.AppliedAt))
		}
		r.logger.Info("migration status", attrs...)
	}
	return statuses, nil
}

// Version returns the current database version, 0 for a clean database.
func (r *Runner) Version(ctx context.Context) (int64, error) {
	version, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read database version: %w", err)
	}
	return version, nil
}

// Run executes a named command from Commands.
func (r *Runner) Run(ctx context.Context, command string) error {
	start := time.Now()
	log := r.logger.With(slog.String("command", command))
	log.Info("starting migration command")

	var err error
	switch command {
	case "up":
		err = r.Up(ctx)
	case "down":
		err = r.Down(ctx)
	case "reset":
		err = r.Reset(ctx)
	case "status":
		_, err = r.Status(ctx)
	case "version":
		var version int64
		version, err = r.Version(ctx)
		if err == nil {
			log.Info("current database version", slog.Int64("version", version))
		}
	default:
		return fmt.Errorf("%w: %s (expected one of %v)", ErrUnknownCommand, command, Commands)
	}

	if err != nil {
		log.Error("migration command failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return fmt.Errorf("migration command '%s' failed: %w", command, err)
	}
	log.Info("migration command executed successfully",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

func (r *Runner) logResults(results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		attrs := []any{
			slog.Int64("version", res.Source.Version),
			slog.String("direction", res.Direction),
			slog.Int64("duration_ms", res.Duration.Milliseconds()),
		}
		if res.Error != nil {
			attrs = append(attrs, slog.String("error", res.Error.Error()))
			r.logger.Error("migration failed", attrs...)
			continue
		}
		r.logger.Info("migration applied", attrs...)
	}
}

// MaskURL hides the password of a database URL for logging.
// Values that are not URLs, such as sqlite file paths, are returned unchanged.
func MaskURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil || parsed.Scheme == "" {
		return dbURL
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "****")
		}
	}
	return parsed.String()
}
