package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/platform/logger"
	"github.com/phrazzld/studykit/internal/store"
)

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// It accepts a database connection that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// terminalStatusList is the SQL literal list of terminal statuses.
var terminalStatusList = quoteStatuses(domain.TerminalStatuses)

func quoteStatuses(statuses []domain.JobStatus) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

// Create implements store.JobStore.Create
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("failed to encode job input: %w", err)
	}

	query := `
		INSERT INTO jobs (id, owner_id, status, progress, model_selection, input, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		nullableUUID(job.OwnerID),
		job.Status,
		job.Progress,
		job.ModelSelection,
		string(input),
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return store.NewStoreError("job", "create", "failed to insert job", MapError(err))
	}

	log.Info("job created successfully",
		slog.String("job_id", job.ID.String()),
		slog.String("input_kind", string(job.Input.Kind)))
	return nil
}

// GetByID implements store.JobStore.GetByID
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, owner_id, status, progress, model_selection, input, error_message, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var (
		job     domain.Job
		ownerID uuid.NullUUID
		input   []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&ownerID,
		&job.Status,
		&job.Progress,
		&job.ModelSelection,
		&input,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id.String()))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, err
	}
	if ownerID.Valid {
		job.OwnerID = ownerID.UUID
	}
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return nil, fmt.Errorf("failed to decode input of job %s: %w", id, err)
	}

	outputs, err := s.stageOutputs(ctx, id)
	if err != nil {
		return nil, err
	}
	job.StageOutputs = outputs
	return &job, nil
}

func (s *PostgresJobStore) stageOutputs(ctx context.Context, jobID uuid.UUID) (map[domain.Stage]*domain.StageOutput, error) {
	query := `
		SELECT stage, payload, empty, degraded, provider, error, updated_at
		FROM job_stage_outputs
		WHERE job_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outputs := make(map[domain.Stage]*domain.StageOutput)
	for rows.Next() {
		var (
			out     domain.StageOutput
			payload []byte
		)
		if err := rows.Scan(&out.Stage, &payload, &out.Empty, &out.Degraded, &out.Provider, &out.Error, &out.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage output: %w", err)
		}
		if len(payload) > 0 {
			out.Payload = json.RawMessage(payload)
		}
		outputs[out.Stage] = &out
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage outputs: %w", err)
	}
	return outputs, nil
}

// SaveStageOutput implements store.JobStore.SaveStageOutput
func (s *PostgresJobStore) SaveStageOutput(ctx context.Context, jobID uuid.UUID, output *domain.StageOutput) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if output == nil || !output.Stage.IsValid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrUnknownStage)
	}
	now := time.Now().UTC()
	if output.UpdatedAt.IsZero() {
		output.UpdatedAt = now
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		touch := `UPDATE jobs SET updated_at = $2 WHERE id = $1 AND status NOT IN (` + terminalStatusList + `)`
		result, err := tx.ExecContext(ctx, touch, jobID, now)
		if err != nil {
			return MapError(err)
		}
		if err := s.checkAffected(ctx, tx, result, jobID); err != nil {
			return err
		}

		upsert := `
			INSERT INTO job_stage_outputs (job_id, stage, payload, empty, degraded, provider, error, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id, stage) DO UPDATE SET
				payload = EXCLUDED.payload,
				empty = EXCLUDED.empty,
				degraded = EXCLUDED.degraded,
				provider = EXCLUDED.provider,
				error = EXCLUDED.error,
				updated_at = EXCLUDED.updated_at
		`
		_, err = tx.ExecContext(ctx, upsert,
			jobID,
			output.Stage,
			nullablePayload(output.Payload),
			output.Empty,
			output.Degraded,
			output.Provider,
			output.Error,
			output.UpdatedAt,
		)
		return MapError(err)
	})
	if err != nil {
		if !errors.Is(err, store.ErrJobTerminal) && !errors.Is(err, store.ErrJobNotFound) {
			log.Error("failed to save stage output",
				slog.String("error", err.Error()),
				slog.String("job_id", jobID.String()),
				slog.String("stage", string(output.Stage)))
		}
		return err
	}

	log.Debug("stage output saved",
		slog.String("job_id", jobID.String()),
		slog.String("stage", string(output.Stage)),
		slog.Bool("empty", output.Empty))
	return nil
}

// SetStatus implements store.JobStore.SetStatus
func (s *PostgresJobStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, message string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidJobStatus, status)
	}
	from := store.Predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", domain.ErrInvalidTransition, status)
	}

	query := `UPDATE jobs SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1 AND status IN (` + quoteStatuses(from) + `)`
	result, err := s.db.ExecContext(ctx, query, id, status, message, time.Now().UTC())
	if err != nil {
		log.Error("failed to update job status",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return store.NewStoreError("job", "set_status", "failed to update job status", MapError(err))
	}
	if err := s.checkAffected(ctx, s.db, result, id); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w to %s", err, status)
		}
		return err
	}

	log.Info("job status updated",
		slog.String("job_id", id.String()),
		slog.String("status", string(status)))
	return nil
}

// SetProgress implements store.JobStore.SetProgress
func (s *PostgresJobStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidProgress)
	}

	query := `UPDATE jobs SET progress = GREATEST(progress, $2), updated_at = $3
		WHERE id = $1 AND status NOT IN (` + terminalStatusList + `)`
	result, err := s.db.ExecContext(ctx, query, id, progress, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}
	return s.checkAffected(ctx, s.db, result, id)
}

// checkAffected explains a guarded update that touched no row.
func (s *PostgresJobStore) checkAffected(ctx context.Context, db store.DBTX, result sql.Result, id uuid.UUID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current domain.JobStatus
	err = db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrJobNotFound
	case err != nil:
		return fmt.Errorf("failed to read job status: %w", err)
	case current.IsTerminal():
		return fmt.Errorf("%w: job %s is %s", store.ErrJobTerminal, id, current)
	default:
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, current)
	}
}

func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func nullablePayload(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
