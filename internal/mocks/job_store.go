package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/store"
)

// MockJobStore is an in-memory store.JobStore with the same guards as the
// database backends: terminal jobs reject every write, status changes follow
// domain.JobStatus.CanTransitionTo, and progress never decreases.
//
// Each method can be overridden with its Fn field. Overrides replace the
// in-memory behavior entirely; call DefaultX from an override to delegate.
type MockJobStore struct {
	CreateFn          func(ctx context.Context, job *domain.Job) error
	GetByIDFn         func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	SaveStageOutputFn func(ctx context.Context, jobID uuid.UUID, output *domain.StageOutput) error
	SetStatusFn       func(ctx context.Context, id uuid.UUID, status domain.JobStatus, message string) error
	SetProgressFn     func(ctx context.Context, id uuid.UUID, progress int) error

	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// ProgressWrites records every progress value accepted, per job.
	ProgressWrites map[uuid.UUID][]int
	// StageWrites counts SaveStageOutput calls, per job and stage.
	StageWrites map[uuid.UUID]map[domain.Stage]int
	// StatusWrites records every status accepted, per job.
	StatusWrites map[uuid.UUID][]domain.JobStatus
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore returns an empty MockJobStore.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:           make(map[uuid.UUID]*domain.Job),
		ProgressWrites: make(map[uuid.UUID][]int),
		StageWrites:    make(map[uuid.UUID]map[domain.Stage]int),
		StatusWrites:   make(map[uuid.UUID][]domain.JobStatus),
	}
}

// Create implements store.JobStore.Create
func (m *MockJobStore) Create(ctx context.Context, job *domain.Job) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	return m.DefaultCreate(ctx, job)
}

// DefaultCreate stores a copy of job.
func (m *MockJobStore) DefaultCreate(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetByID implements store.JobStore.GetByID
func (m *MockJobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return m.DefaultGetByID(ctx, id)
}

// DefaultGetByID returns a copy of the stored job.
func (m *MockJobStore) DefaultGetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// SaveStageOutput implements store.JobStore.SaveStageOutput
func (m *MockJobStore) SaveStageOutput(ctx context.Context, jobID uuid.UUID, output *domain.StageOutput) error {
	if m.SaveStageOutputFn != nil {
		return m.SaveStageOutputFn(ctx, jobID, output)
	}
	return m.DefaultSaveStageOutput(ctx, jobID, output)
}

// DefaultSaveStageOutput upserts output on a non-terminal job.
func (m *MockJobStore) DefaultSaveStageOutput(_ context.Context, jobID uuid.UUID, output *domain.StageOutput) error {
	if output == nil || !output.Stage.IsValid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrUnknownStage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.mutable(jobID)
	if err != nil {
		return err
	}
	if m.StageWrites[jobID] == nil {
		m.StageWrites[jobID] = make(map[domain.Stage]int)
	}
	m.StageWrites[jobID][output.Stage]++

	saved := *output
	if job.StageOutputs == nil {
		job.StageOutputs = make(map[domain.Stage]*domain.StageOutput)
	}
	job.StageOutputs[output.Stage] = &saved
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus implements store.JobStore.SetStatus
func (m *MockJobStore) SetStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, message string) error {
	if m.SetStatusFn != nil {
		return m.SetStatusFn(ctx, id, status, message)
	}
	return m.DefaultSetStatus(ctx, id, status, message)
}

// DefaultSetStatus applies a legal status transition.
func (m *MockJobStore) DefaultSetStatus(_ context.Context, id uuid.UUID, status domain.JobStatus, message string) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidJobStatus, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.mutable(id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, id, job.Status)
	}
	job.Status = status
	job.ErrorMessage = message
	job.UpdatedAt = time.Now().UTC()
	m.StatusWrites[id] = append(m.StatusWrites[id], status)
	return nil
}

// SetProgress implements store.JobStore.SetProgress
func (m *MockJobStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if m.SetProgressFn != nil {
		return m.SetProgressFn(ctx, id, progress)
	}
	return m.DefaultSetProgress(ctx, id, progress)
}

// DefaultSetProgress raises the stored progress to progress.
func (m *MockJobStore) DefaultSetProgress(_ context.Context, id uuid.UUID, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidProgress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.mutable(id)
	if err != nil {
		return err
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	m.ProgressWrites[id] = append(m.ProgressWrites[id], job.Progress)
	return nil
}

// StageWriteCount returns how many times stage was written for jobID.
func (m *MockJobStore) StageWriteCount(jobID uuid.UUID, stage domain.Stage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StageWrites[jobID][stage]
}

// ProgressHistory returns the stored progress after each accepted write.
func (m *MockJobStore) ProgressHistory(jobID uuid.UUID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.ProgressWrites[jobID]...)
}

// StatusHistory returns every status accepted for jobID.
func (m *MockJobStore) StatusHistory(jobID uuid.UUID) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobStatus(nil), m.StatusWrites[jobID]...)
}

// mutable returns the stored job if it still accepts writes. Callers hold m.mu.
func (m *MockJobStore) mutable(id uuid.UUID) (*domain.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", store.ErrJobTerminal, id, job.Status)
	}
	return job, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	c.StageOutputs = make(map[domain.Stage]*domain.StageOutput, len(job.StageOutputs))
	for stage, out := range job.StageOutputs {
		copied := *out
		c.StageOutputs[stage] = &copied
	}
	return &c
}
