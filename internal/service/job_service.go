package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/platform/logger"
	"github.com/phrazzld/studykit/internal/process"
	"github.com/phrazzld/studykit/internal/store"
)

// stoppedMessage is recorded as the error text of a job stopped on request.
const stoppedMessage = "stopped by request"

// Runner executes a persisted job to a terminal status.
// pipeline.Controller satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// ProcessCanceller terminates the external processes registered for a job.
// process.Registry satisfies it.
type ProcessCanceller interface {
	// Detach marks jobID cancelled and takes its live registrations.
	Detach(jobID uuid.UUID) []process.Registration
	// Signal terminates the detached processes and returns how many were signalled.
	Signal(ctx context.Context, jobID uuid.UUID, regs []process.Registration) int
	// Forget drops the job's bookkeeping once it has terminated.
	Forget(jobID uuid.UUID)
}

// StartJobInput holds everything needed to create a job.
type StartJobInput struct {
	Input          domain.Input
	ModelSelection domain.ModelSelection
	// OwnerID is the authenticated caller, or uuid.Nil when auth is disabled.
	OwnerID uuid.UUID
}

// JobService is the lifecycle boundary of the pipeline.
type JobService interface {
	// Start validates and persists a new job, then runs it in the background.
	// It returns as soon as the job is stored in the created state.
	Start(ctx context.Context, in StartJobInput) (*domain.Job, error)

	// Stop cancels a job and terminates its external processes, returning
	// how many processes were signalled. Stopping a terminal job is a no-op
	// returning 0. Returns store.ErrJobNotFound for an unknown job.
	Stop(ctx context.Context, jobID uuid.UUID) (int, error)

	// Shutdown rejects new jobs, stops running ones, and waits for their
	// goroutines to return or ctx to expire.
	Shutdown(ctx context.Context) error
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	jobs       store.JobStore
	runner     Runner
	processes  ProcessCanceller
	retryDelay time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewJobService creates a new JobService.
// It returns an error if any of the required dependencies are nil.
// A non-positive retryDelay selects store.DefaultWriteRetryDelay.
func NewJobService(
	jobs store.JobStore,
	runner Runner,
	processes ProcessCanceller,
	retryDelay time.Duration,
	logger *slog.Logger,
) (JobService, error) {
	if jobs == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if runner == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "runner cannot be nil"}
	}
	if processes == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "processes cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		jobs:       jobs,
		runner:     runner,
		processes:  processes,
		retryDelay: retryDelay,
		logger:     logger.With("component", "job_service"),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}, nil
}

// Start implements JobService.Start
func (s *jobServiceImpl) Start(ctx context.Context, in StartJobInput) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if s.isClosed() {
		return nil, ErrShuttingDown
	}

	// 1. Validate the input and build the job
	job, err := domain.NewJob(in.OwnerID, in.Input, in.ModelSelection)
	if err != nil {
		log.Warn("rejected job input",
			slog.String("input_kind", string(in.Input.Kind)),
			slog.String("error", err.Error()))
		return nil, NewJobServiceError("start_job", "invalid job input", err)
	}

	// 2. Persist it in the created state
	if err := s.jobs.Create(ctx, job); err != nil {
		log.Error("failed to save job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return nil, NewJobServiceError("start_job", "failed to save job", err)
	}

	// 3. Hand it to the runner. The run outlives the request but keeps its
	// context values (logger, request ID).
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.markStopped(ctx, job.ID)
		return nil, ErrShuttingDown
	}
	s.running[job.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, job.ID, cancel)

	log.Info("job started",
		slog.String("job_id", job.ID.String()),
		slog.String("input_kind", string(job.Input.Kind)),
		slog.String("model_selection", string(job.ModelSelection)))
	return job, nil
}

func (s *jobServiceImpl) run(ctx context.Context, jobID uuid.UUID, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
		cancel()
		s.processes.Forget(jobID)
	}()

	if err := s.runner.Run(ctx, jobID); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("job run failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

// Stop implements JobService.Stop
func (s *jobServiceImpl) Stop(ctx context.Context, jobID uuid.UUID) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", jobID.String()))

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return 0, NewJobServiceError("stop_job", "failed to load job", err)
	}
	if job.Status.IsTerminal() {
		log.Debug("stop requested for terminal job", slog.String("status", string(job.Status)))
		return 0, nil
	}

	// 1. Take the job's workers before the token trips; a worker killed by its
	// own context would otherwise unregister before it is counted.
	regs := s.processes.Detach(jobID)

	// 2. Trip the cancellation token so no further stage starts or writes
	s.mu.Lock()
	cancel, local := s.running[jobID]
	s.mu.Unlock()
	if local {
		cancel()
	}

	// 3. Kill the workers, escalating to the whole process tree after the grace period
	signalled := s.processes.Signal(ctx, jobID, regs)

	// 4. Record the terminal status
	writeErr := store.WriteWithRetry(ctx, s.retryDelay, func(ctx context.Context) error {
		return s.jobs.SetStatus(ctx, jobID, domain.JobStatusStopped, stoppedMessage)
	})

	// The run goroutine forgets its own job; anything else is dropped here.
	s.mu.Lock()
	_, stillRunning := s.running[jobID]
	s.mu.Unlock()
	if !stillRunning {
		s.processes.Forget(jobID)
	}

	if errors.Is(writeErr, store.ErrJobTerminal) {
		// The job finished between the read and the write.
		log.Debug("job reached a terminal status before it could be stopped",
			slog.Int("signalled", signalled))
		return signalled, nil
	}
	if writeErr != nil {
		log.Error("failed to record stopped status", slog.String("error", writeErr.Error()))
		return signalled, NewJobServiceError("stop_job", "failed to record stopped status", writeErr)
	}

	log.Info("job stopped",
		slog.Int("signalled", signalled),
		slog.Bool("running_here", local))
	return signalled, nil
}

// Shutdown implements JobService.Shutdown
func (s *jobServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]uuid.UUID, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down job service", slog.Int("running_jobs", len(ids)))

	stops := conc.NewWaitGroup()
	for _, id := range ids {
		stops.Go(func() {
			if _, err := s.Stop(ctx, id); err != nil && !errors.Is(err, store.ErrJobNotFound) {
				s.logger.Warn("failed to stop job during shutdown",
					slog.String("job_id", id.String()),
					slog.String("error", err.Error()))
			}
		})
	}
	stops.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("job service stopped")
		return nil
	case <-ctx.Done():
		return NewJobServiceError("shutdown", "timed out waiting for running jobs", ctx.Err())
	}
}

// markStopped records a job that was created but never handed to the runner.
func (s *jobServiceImpl) markStopped(ctx context.Context, jobID uuid.UUID) {
	err := store.WriteWithRetry(ctx, s.retryDelay, func(ctx context.Context) error {
		return s.jobs.SetStatus(ctx, jobID, domain.JobStatusStopped, ErrShuttingDown.Error())
	})
	if err != nil {
		s.logger.Warn("failed to stop job created during shutdown",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

func (s *jobServiceImpl) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
