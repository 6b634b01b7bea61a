package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/domain"
)

// JobStore defines the interface for job data persistence.
type JobStore interface {
	// Create saves a new job. The job is validated first.
	// Returns ErrDuplicate if a job with the same ID already exists.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job and all of its stage outputs.
	// Returns ErrJobNotFound if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// SaveStageOutput upserts the output of one stage, keyed by job and stage.
	// Returns ErrJobNotFound or ErrJobTerminal when the write is rejected.
	SaveStageOutput(ctx context.Context, jobID uuid.UUID, output *domain.StageOutput) error

	// SetStatus moves a job to status, recording message as its error text.
	// Returns ErrJobTerminal if the job had already reached a terminal
	// status and domain.ErrInvalidTransition for any other illegal move.
	SetStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, message string) error

	// SetProgress raises a job's progress to progress. Lower values never
	// decrease the stored progress.
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
}

// Predecessors returns the statuses from which status may be entered.
func Predecessors(status domain.JobStatus) []domain.JobStatus {
	all := []domain.JobStatus{
		domain.JobStatusCreated,
		domain.JobStatusRunning,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusStopped,
	}
	var out []domain.JobStatus
	for _, s := range all {
		if s.CanTransitionTo(status) {
			out = append(out, s)
		}
	}
	return out
}
