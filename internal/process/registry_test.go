package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/platform/logger"
)

// fakeHandle is a controllable stand-in for a worker process.
type fakeHandle struct {
	pid int
	// exitOnTerminate makes Terminate close Done, like a well-behaved worker.
	exitOnTerminate bool
	terminateErr    error

	once       sync.Once
	done       chan struct{}
	terminated atomic.Int32
	killed     atomic.Int32
}

func newFakeHandle(pid int, exitOnTerminate bool) *fakeHandle {
	return &fakeHandle{pid: pid, exitOnTerminate: exitOnTerminate, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Terminate() error {
	h.terminated.Add(1)
	if h.terminateErr != nil {
		return h.terminateErr
	}
	if h.exitOnTerminate {
		h.exit()
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.killed.Add(1)
	h.exit()
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) exit() { h.once.Do(func() { close(h.done) }) }

func newTestRegistry(t *testing.T, grace time.Duration) *Registry {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	return NewRegistry(grace, log)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()

	h1 := newFakeHandle(101, true)
	h2 := newFakeHandle(102, true)
	require.NoError(t, r.Register(ctx, jobID, h1, KindDownload))
	require.NoError(t, r.Register(ctx, jobID, h2, KindTranscribe))
	assert.Equal(t, 2, r.Count(jobID))

	r.Unregister(jobID, h1)
	r.Unregister(jobID, h1) // idempotent
	r.Unregister(uuid.New(), h2)
	assert.Equal(t, 1, r.Count(jobID))

	regs := r.Registrations(jobID)
	require.Len(t, regs, 1)
	assert.Equal(t, KindTranscribe, regs[0].Kind)
	assert.Equal(t, jobID, regs[0].JobID)
	assert.False(t, regs[0].StartedAt.IsZero())
}

func TestRegistry_HandleInOneRegistrationOnly(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	h := newFakeHandle(7, true)

	require.NoError(t, r.Register(ctx, uuid.New(), h, KindDownload))
	err := r.Register(ctx, uuid.New(), h, KindDownload)
	assert.ErrorIs(t, err, ErrHandleRegistered)
}

func TestRegistry_ExitedHandleIsRemoved(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	jobID := uuid.New()
	h := newFakeHandle(9, true)

	require.NoError(t, r.Register(context.Background(), jobID, h, KindTranscribe))
	h.exit()

	assert.Eventually(t, func() bool { return r.Count(jobID) == 0 }, time.Second, 5*time.Millisecond)
	// the handle is free to be registered again after it is removed
	assert.Eventually(t, func() bool {
		return !errors.Is(r.Register(context.Background(), uuid.New(), h, KindTranscribe), ErrHandleRegistered)
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_CancelAllGraceful(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, time.Second)
	ctx := context.Background()
	jobID := uuid.New()

	handles := []*fakeHandle{newFakeHandle(1, true), newFakeHandle(2, true), newFakeHandle(3, true)}
	for _, h := range handles {
		require.NoError(t, r.Register(ctx, jobID, h, KindTranscribe))
	}

	count := r.CancelAll(ctx, jobID)
	assert.Equal(t, 3, count)
	for _, h := range handles {
		assert.Equal(t, int32(1), h.terminated.Load())
		assert.Equal(t, int32(0), h.killed.Load(), "graceful exit must not be escalated")
	}
	assert.Equal(t, 0, r.Count(jobID))
}

func TestRegistry_CancelAllKillsAfterGracePeriod(t *testing.T) {
	t.Parallel()
	grace := 30 * time.Millisecond
	r := newTestRegistry(t, grace)
	ctx := context.Background()
	jobID := uuid.New()

	stubborn := newFakeHandle(11, false)
	require.NoError(t, r.Register(ctx, jobID, stubborn, KindTranscribe))

	start := time.Now()
	count := r.CancelAll(ctx, jobID)
	elapsed := time.Since(start)

	assert.Equal(t, 1, count)
	assert.Equal(t, int32(1), stubborn.killed.Load())
	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+time.Second)
	select {
	case <-stubborn.Done():
	default:
		t.Fatal("handle should have exited after kill")
	}
}

func TestRegistry_CancelAllCountsOnlySignalled(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()

	ok := newFakeHandle(21, true)
	broken := newFakeHandle(22, true)
	broken.terminateErr = errors.New("operation not permitted")
	require.NoError(t, r.Register(ctx, jobID, ok, KindDownload))
	require.NoError(t, r.Register(ctx, jobID, broken, KindDownload))

	count := r.CancelAll(ctx, jobID)
	assert.Equal(t, 1, count, "failed termination requests are not counted")
	assert.Equal(t, int32(1), broken.killed.Load(), "a handle that refused termination is still killed")
}

func TestRegistry_CancelAllIdempotent(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, r.Register(ctx, jobID, newFakeHandle(31, true), KindDownload))
	assert.Equal(t, 1, r.CancelAll(ctx, jobID))
	assert.Equal(t, 0, r.CancelAll(ctx, jobID))
	assert.Equal(t, 0, r.CancelAll(ctx, uuid.New()), "unknown job has nothing to cancel")
}

func TestRegistry_RegisterAfterCancel(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	jobID := uuid.New()

	assert.Equal(t, 0, r.CancelAll(context.Background(), jobID))
	err := r.Register(context.Background(), jobID, newFakeHandle(41, true), KindDownload)
	assert.ErrorIs(t, err, ErrJobCancelled)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Register(cancelled, uuid.New(), newFakeHandle(42, true), KindDownload)
	assert.ErrorIs(t, err, ErrJobCancelled)

	r.Forget(jobID)
	assert.NoError(t, r.Register(context.Background(), jobID, newFakeHandle(43, true), KindDownload),
		"a forgotten job starts with fresh bookkeeping")
}

func TestRegistry_ConcurrentRegisterAndCancel(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 20*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()

	const n = 50
	handles := make([]*fakeHandle, n)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := range handles {
		handles[i] = newFakeHandle(1000+i, true)
		wg.Add(1)
		go func(h *fakeHandle) {
			defer wg.Done()
			if err := r.Register(ctx, jobID, h, KindTranscribe); err == nil {
				accepted.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrJobCancelled)
			}
		}(handles[i])
	}

	var signalled int
	wg.Add(1)
	go func() {
		defer wg.Done()
		signalled = r.CancelAll(ctx, jobID)
	}()
	wg.Wait()

	// Registrations that slipped in before cancellation were signalled; none
	// accepted afterwards, so nothing is left behind.
	assert.Equal(t, int(accepted.Load()), signalled)
	assert.Equal(t, 0, r.Count(jobID))
}

// A handle whose process exits after Detach but before Signal still counts:
// the registry took it before anything else could signal it.
func TestRegistry_DetachThenSignal(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()
	h := newFakeHandle(51, true)
	require.NoError(t, r.Register(ctx, jobID, h, KindTranscribe))

	regs := r.Detach(jobID)
	require.Len(t, regs, 1)
	assert.Equal(t, 0, r.Count(jobID))
	assert.ErrorIs(t, r.Register(ctx, jobID, newFakeHandle(52, true), KindDownload), ErrJobCancelled)

	// The worker reacts to its context first and exits on its own.
	h.exit()
	assert.Equal(t, 1, r.Signal(ctx, jobID, regs))
	assert.Equal(t, int32(1), h.terminated.Load())
	assert.Zero(t, r.Signal(ctx, jobID, nil))
}

func TestRegistry_ForgetDropsBookkeeping(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, 50*time.Millisecond)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, r.Register(ctx, jobID, newFakeHandle(61, true), KindDownload))
	assert.Equal(t, 1, r.Jobs())

	// Forgetting before a late cancel leaves a cancelled entry behind until
	// the next Forget.
	r.Forget(jobID)
	assert.Zero(t, r.Jobs())
	assert.Zero(t, r.CancelAll(ctx, jobID))
	assert.Equal(t, 1, r.Jobs())
	r.Forget(jobID)
	assert.Zero(t, r.Jobs())
	r.Forget(jobID)
	assert.Zero(t, r.Jobs())
}

func TestNewRegistry_DefaultGracePeriod(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0, nil)
	assert.Equal(t, DefaultGracePeriod, r.gracePeriod)
}
