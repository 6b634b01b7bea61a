package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/service"
)

// MockJobService implements service.JobService for testing
type MockJobService struct {
	StartFn    func(ctx context.Context, in service.StartJobInput) (*domain.Job, error)
	StopFn     func(ctx context.Context, jobID uuid.UUID) (int, error)
	ShutdownFn func(ctx context.Context) error

	mu     sync.Mutex
	starts []service.StartJobInput
	stops  []uuid.UUID
}

var _ service.JobService = (*MockJobService)(nil)

// Start implements service.JobService. Without StartFn it returns a new
// created job for the input.
func (m *MockJobService) Start(ctx context.Context, in service.StartJobInput) (*domain.Job, error) {
	m.mu.Lock()
	m.starts = append(m.starts, in)
	m.mu.Unlock()

	if m.StartFn != nil {
		return m.StartFn(ctx, in)
	}
	return domain.NewJob(in.OwnerID, in.Input, in.ModelSelection)
}

// Stop implements service.JobService
func (m *MockJobService) Stop(ctx context.Context, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	m.stops = append(m.stops, jobID)
	m.mu.Unlock()

	if m.StopFn != nil {
		return m.StopFn(ctx, jobID)
	}
	return 0, nil
}

// Shutdown implements service.JobService
func (m *MockJobService) Shutdown(ctx context.Context) error {
	if m.ShutdownFn != nil {
		return m.ShutdownFn(ctx)
	}
	return nil
}

// Starts returns every input passed to Start.
func (m *MockJobService) Starts() []service.StartJobInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.StartJobInput(nil), m.starts...)
}

// Stops returns every job ID passed to Stop.
func (m *MockJobService) Stops() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.stops...)
}
