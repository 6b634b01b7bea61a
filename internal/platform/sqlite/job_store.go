package sqlite

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

// JobStore implements store.JobStore on an SQLite database.
// Timestamps are stored as RFC 3339 text in UTC.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore on a database opened with Open and migrated
// to the current schema. If logger is nil, a default logger will be used.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

var terminalStatusList = placeholders(len(domain.TerminalStatuses))

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []domain.JobStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}

// Create implements store.JobStore.Create
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, status, progress, model_selection, input, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(),
		nullableID(job.OwnerID),
		string(job.Status),
		job.Progress,
		string(job.ModelSelection),
		string(input),
		job.ErrorMessage,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
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
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var (
		job       domain.Job
		rawID     string
		ownerID   sql.NullString
		status    string
		selection string
		input     string
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, progress, model_selection, input, error_message, created_at, updated_at
		FROM jobs WHERE id = ?`, id.String(),
	).Scan(&rawID, &ownerID, &status, &job.Progress, &selection, &input, &job.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	if job.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", rawID, err)
	}
	if ownerID.Valid && ownerID.String != "" {
		if job.OwnerID, err = uuid.Parse(ownerID.String); err != nil {
			return nil, fmt.Errorf("invalid owner id %q: %w", ownerID.String, err)
		}
	}
	job.Status = domain.JobStatus(status)
	job.ModelSelection = domain.ModelSelection(selection)
	if err := json.Unmarshal([]byte(input), &job.Input); err != nil {
		return nil, fmt.Errorf("failed to decode input of job %s: %w", id, err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	outputs, err := s.stageOutputs(ctx, id)
	if err != nil {
		return nil, err
	}
	job.StageOutputs = outputs
	return &job, nil
}

func (s *JobStore) stageOutputs(ctx context.Context, jobID uuid.UUID) (map[domain.Stage]*domain.StageOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, payload, empty, degraded, provider, error, updated_at
		FROM job_stage_outputs WHERE job_id = ?`, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query stage outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	outputs := make(map[domain.Stage]*domain.StageOutput)
	for rows.Next() {
		var (
			out       domain.StageOutput
			stage     string
			payload   sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&stage, &payload, &out.Empty, &out.Degraded, &out.Provider, &out.Error, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage output: %w", err)
		}
		if out.Stage, err = domain.ParseStage(stage); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			out.Payload = json.RawMessage(payload.String)
		}
		if out.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		outputs[out.Stage] = &out
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stage outputs: %w", err)
	}
	return outputs, nil
}

// SaveStageOutput implements store.JobStore.SaveStageOutput
func (s *JobStore) SaveStageOutput(ctx context.Context, jobID uuid.UUID, output *domain.StageOutput) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if output == nil || !output.Stage.IsValid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrUnknownStage)
	}
	now := time.Now().UTC()
	if output.UpdatedAt.IsZero() {
		output.UpdatedAt = now
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		args := append([]any{formatTime(now), jobID.String()}, statusArgs(domain.TerminalStatuses)...)
		result, err := tx.ExecContext(ctx,
			`UPDATE jobs SET updated_at = ? WHERE id = ? AND status NOT IN (`+terminalStatusList+`)`, args...)
		if err != nil {
			return MapError(err)
		}
		if err := checkAffected(ctx, tx, result, jobID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_stage_outputs (job_id, stage, payload, empty, degraded, provider, error, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (job_id, stage) DO UPDATE SET
				payload = excluded.payload,
				empty = excluded.empty,
				degraded = excluded.degraded,
				provider = excluded.provider,
				error = excluded.error,
				updated_at = excluded.updated_at`,
			jobID.String(),
			string(output.Stage),
			nullablePayload(output.Payload),
			output.Empty,
			output.Degraded,
			output.Provider,
			output.Error,
			formatTime(output.UpdatedAt),
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
func (s *JobStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, message string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidJobStatus, status)
	}
	from := store.Predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", domain.ErrInvalidTransition, status)
	}

	args := append([]any{string(status), message, formatTime(time.Now()), id.String()}, statusArgs(from)...)
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		log.Error("failed to update job status",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return store.NewStoreError("job", "set_status", "failed to update job status", MapError(err))
	}
	if err := checkAffected(ctx, s.db, result, id); err != nil {
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
func (s *JobStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidProgress)
	}

	args := append([]any{progress, formatTime(time.Now()), id.String()}, statusArgs(domain.TerminalStatuses)...)
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), updated_at = ?
		WHERE id = ? AND status NOT IN (`+terminalStatusList+`)`, args...)
	if err != nil {
		return MapError(err)
	}
	return checkAffected(ctx, s.db, result, id)
}

// checkAffected explains a guarded update that touched no row.
func checkAffected(ctx context.Context, db store.DBTX, result sql.Result, id uuid.UUID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id.String()).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrJobNotFound
	case err != nil:
		return fmt.Errorf("failed to read job status: %w", err)
	case domain.JobStatus(current).IsTerminal():
		return fmt.Errorf("%w: job %s is %s", store.ErrJobTerminal, id, current)
	default:
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, current)
	}
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func nullablePayload(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}
