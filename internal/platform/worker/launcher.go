// Package worker spawns the external extraction workers (transcription,
// audio download, caption fetch) and exposes them as process handles.
//
// Every worker prints one JSON object on stdout and logs on stderr. Stderr
// lines are forwarded to the job logger at debug level.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/platform/logger"
)

const megabyte = 1 << 20

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, c Command) (*Process, error)
}

// Launcher starts worker processes with exec.CommandContext. Cancelling the
// spawn context sends SIGTERM to the process tree and, after the grace
// period, kills the worker.
type Launcher struct {
	logger        *slog.Logger
	gracePeriod   time.Duration
	workDir       string
	minFreeMemory uint64
	minFreeDisk   uint64
	// resources is swapped in tests.
	resources func() error
}

var _ Spawner = (*Launcher)(nil)

// NewLauncher creates a Launcher from the worker configuration.
func NewLauncher(cfg config.WorkerConfig, log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	l := &Launcher{
		logger:        log.With(slog.String("component", "worker_launcher")),
		gracePeriod:   cfg.GracePeriod(),
		workDir:       cfg.WorkDir,
		minFreeMemory: uint64(cfg.MinFreeMemoryMB) * megabyte,
		minFreeDisk:   uint64(cfg.MinFreeDiskMB) * megabyte,
	}
	l.resources = l.checkResources
	return l
}

// Spawn starts c and returns immediately. The returned process is reaped in
// the background; callers observe exit through Done or Wait.
func (l *Launcher) Spawn(ctx context.Context, c Command) (*Process, error) {
	if len(c.Argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.resources(); err != nil {
		return nil, err
	}

	log := logger.FromContextOrDefault(ctx, l.logger).With(
		slog.String("worker_kind", string(c.Kind)),
		slog.String("program", c.Argv[0]))

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	p := &Process{
		ctx:    ctx,
		cmd:    cmd,
		kind:   c.Kind,
		stderr: newLineLogger(log),
		done:   make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = p.stderr
	cmd.Cancel = p.Terminate
	cmd.WaitDelay = l.gracePeriod

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s worker: %w", c.Kind, err)
	}

	log.Debug("worker started", slog.Int("pid", p.PID()))

	go func() {
		p.waitErr = cmd.Wait()
		p.stderr.Flush()
		log.Debug("worker exited",
			slog.Int("pid", p.PID()),
			slog.Int("exit_code", cmd.ProcessState.ExitCode()))
		close(p.done)
	}()

	return p, nil
}

// checkResources verifies that the host has enough free memory and disk to
// start another worker. Measurement failures are logged and ignored.
func (l *Launcher) checkResources() error {
	if l.minFreeMemory > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			l.logger.Warn("could not read memory usage", slog.Any("error", err))
		} else if vm.Available < l.minFreeMemory {
			return fmt.Errorf("%w: %d MB memory available, %d MB required",
				ErrInsufficientResources, vm.Available/megabyte, l.minFreeMemory/megabyte)
		}
	}

	if l.minFreeDisk > 0 && l.workDir != "" {
		usage, err := disk.Usage(l.workDir)
		if err != nil {
			l.logger.Warn("could not read disk usage", slog.String("dir", l.workDir), slog.Any("error", err))
		} else if usage.Free < l.minFreeDisk {
			return fmt.Errorf("%w: %d MB disk free, %d MB required",
				ErrInsufficientResources, usage.Free/megabyte, l.minFreeDisk/megabyte)
		}
	}
	return nil
}

const stderrTailLines = 5

// lineLogger forwards complete stderr lines to a logger and keeps the last
// few for error messages.
type lineLogger struct {
	log *slog.Logger

	mu      sync.Mutex
	partial []byte
	tail    []string
}

func newLineLogger(log *slog.Logger) *lineLogger {
	return &lineLogger{log: log}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

// Tail returns up to the last few stderr lines.
func (w *lineLogger) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tail...)
}

func (w *lineLogger) emit(line string) {
	if line == "" {
		return
	}
	w.log.Debug("worker stderr", slog.String("line", line))
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[len(w.tail)-stderrTailLines:]
	}
}
