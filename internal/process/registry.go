// Package process tracks external worker processes per job so that a stop
// request can terminate them.
package process

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// DefaultGracePeriod is how long CancelAll waits after a graceful
// termination request before killing a worker.
const DefaultGracePeriod = 5 * time.Second

var (
	// ErrHandleRegistered is returned when a handle is already tracked under some job.
	ErrHandleRegistered = errors.New("process handle already registered")

	// ErrJobCancelled is returned when registering against a job that has been
	// cancelled. The caller still owns the handle and must kill it.
	ErrJobCancelled = errors.New("job cancelled")
)

// Kind classifies what a worker process does.
type Kind string

// Worker kinds
const (
	KindDownload   Kind = "download"
	KindTranscribe Kind = "transcribe"
)

// Handle is a live external process. Implementations must be comparable
// (pointer types) since the registry keys on them.
type Handle interface {
	PID() int
	// Terminate requests a graceful exit.
	Terminate() error
	// Kill forcibly stops the process.
	Kill() error
	// Done is closed once the process has exited for any reason.
	Done() <-chan struct{}
}

// Registration associates one live handle with its job.
type Registration struct {
	JobID     uuid.UUID
	Handle    Handle
	Kind      Kind
	StartedAt time.Time
}

type entry struct {
	mu        sync.Mutex
	cancelled bool
	handles   map[Handle]Registration
}

// Registry tracks live worker handles per job. Each job's handle set is
// guarded by its own lock; there is no registry-wide lock.
type Registry struct {
	entries     sync.Map // uuid.UUID -> *entry
	owners      sync.Map // Handle -> uuid.UUID
	gracePeriod time.Duration
	logger      *slog.Logger
}

// NewRegistry creates a Registry. A non-positive grace period selects DefaultGracePeriod.
func NewRegistry(gracePeriod time.Duration, logger *slog.Logger) *Registry {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gracePeriod: gracePeriod,
		logger:      logger.With(slog.String("component", "process_registry")),
	}
}

func (r *Registry) entryFor(jobID uuid.UUID) *entry {
	if e, ok := r.entries.Load(jobID); ok {
		return e.(*entry)
	}
	e, _ := r.entries.LoadOrStore(jobID, &entry{handles: make(map[Handle]Registration)})
	return e.(*entry)
}

// Register records handle under jobID and removes it once the handle exits.
// It fails with ErrJobCancelled when ctx is done or the job was already
// cancelled, and with ErrHandleRegistered when handle is tracked already.
func (r *Registry) Register(ctx context.Context, jobID uuid.UUID, handle Handle, kind Kind) error {
	if ctx.Err() != nil {
		return ErrJobCancelled
	}
	if _, loaded := r.owners.LoadOrStore(handle, jobID); loaded {
		return ErrHandleRegistered
	}

	e := r.entryFor(jobID)
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		r.owners.Delete(handle)
		return ErrJobCancelled
	}
	e.handles[handle] = Registration{
		JobID:     jobID,
		Handle:    handle,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	e.mu.Unlock()

	r.logger.Debug("registered worker process",
		slog.String("job_id", jobID.String()),
		slog.Int("pid", handle.PID()),
		slog.String("kind", string(kind)))

	go func() {
		<-handle.Done()
		r.Unregister(jobID, handle)
	}()
	return nil
}

// Unregister removes handle from jobID. Removing an absent handle is a no-op.
func (r *Registry) Unregister(jobID uuid.UUID, handle Handle) {
	v, ok := r.entries.Load(jobID)
	if !ok {
		return
	}
	e := v.(*entry)

	e.mu.Lock()
	_, present := e.handles[handle]
	delete(e.handles, handle)
	e.mu.Unlock()

	if present {
		r.owners.Delete(handle)
	}
}

// CancelAll marks jobID cancelled, asks every registered handle to exit, and
// kills any that are still running after the grace period. It returns how
// many handles were successfully signalled. Handles are removed, so a second
// call returns 0. Later Register calls for jobID fail with ErrJobCancelled.
func (r *Registry) CancelAll(ctx context.Context, jobID uuid.UUID) int {
	return r.Signal(ctx, jobID, r.Detach(jobID))
}

// Detach marks jobID cancelled and takes its live registrations out of the
// registry without signalling them. Later Register calls for jobID fail with
// ErrJobCancelled. Pass the result to Signal.
func (r *Registry) Detach(jobID uuid.UUID) []Registration {
	e := r.entryFor(jobID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
	regs := make([]Registration, 0, len(e.handles))
	for h, reg := range e.handles {
		regs = append(regs, reg)
		delete(e.handles, h)
		r.owners.Delete(h)
	}
	return regs
}

// Signal asks every handle in regs to exit and kills any that are still
// running after the grace period. It returns how many termination requests
// were delivered.
func (r *Registry) Signal(ctx context.Context, jobID uuid.UUID, regs []Registration) int {
	if len(regs) == 0 {
		return 0
	}

	log := r.logger.With(slog.String("job_id", jobID.String()))
	var signalled atomic.Int64
	var wg conc.WaitGroup
	for _, reg := range regs {
		wg.Go(func() {
			if r.stop(ctx, log, reg) {
				signalled.Add(1)
			}
		})
	}
	wg.Wait()

	log.Info("cancelled worker processes",
		slog.Int("registered", len(regs)),
		slog.Int64("signalled", signalled.Load()))
	return int(signalled.Load())
}

// stop terminates one handle, escalating to Kill after the grace period.
// It reports whether the termination request was delivered.
func (r *Registry) stop(ctx context.Context, log *slog.Logger, reg Registration) bool {
	h := reg.Handle
	log = log.With(slog.Int("pid", h.PID()), slog.String("kind", string(reg.Kind)))

	if err := h.Terminate(); err != nil {
		log.Warn("failed to request worker termination", slog.Any("error", err))
		// The process may be wedged; still try to kill it.
		if killErr := h.Kill(); killErr != nil {
			log.Warn("failed to kill worker", slog.Any("error", killErr))
		}
		return false
	}

	timer := time.NewTimer(r.gracePeriod)
	defer timer.Stop()

	select {
	case <-h.Done():
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	log.Warn("worker did not exit within grace period, killing",
		slog.Duration("grace_period", r.gracePeriod))
	if err := h.Kill(); err != nil {
		log.Warn("failed to kill worker", slog.Any("error", err))
	}
	return true
}

// Forget drops all bookkeeping for jobID once the job has terminated.
func (r *Registry) Forget(jobID uuid.UUID) {
	v, ok := r.entries.LoadAndDelete(jobID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	for h := range e.handles {
		r.owners.Delete(h)
	}
	e.handles = make(map[Handle]Registration)
	e.mu.Unlock()
}

// Jobs returns the number of jobs with bookkeeping, live or cancelled.
func (r *Registry) Jobs() int {
	n := 0
	r.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Count returns the number of live registrations for jobID.
func (r *Registry) Count(jobID uuid.UUID) int {
	v, ok := r.entries.Load(jobID)
	if !ok {
		return 0
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Registrations returns a snapshot of jobID's live registrations.
func (r *Registry) Registrations(jobID uuid.UUID) []Registration {
	v, ok := r.entries.Load(jobID)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Registration, 0, len(e.handles))
	for _, reg := range e.handles {
		out = append(out, reg)
	}
	return out
}
