package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	psprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/phrazzld/studykit/internal/process"
)

// Process is a running worker. It implements process.Handle.
type Process struct {
	ctx    context.Context
	cmd    *exec.Cmd
	kind   process.Kind
	stdout bytes.Buffer
	stderr *lineLogger

	// terminated is set once a graceful termination request was delivered.
	// termMu serialises Terminate calls.
	termMu     sync.Mutex
	terminated bool

	done    chan struct{}
	waitErr error
}

var _ process.Handle = (*Process)(nil)

// PID returns the operating system process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Kind returns what the worker does.
func (p *Process) Kind() process.Kind {
	return p.kind
}

// Done is closed once the worker has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Terminate sends SIGTERM to the worker and every process it spawned. Once
// a request has been delivered, later calls succeed without signalling again,
// so context cancellation and an explicit stop count as one request.
func (p *Process) Terminate() error {
	p.termMu.Lock()
	defer p.termMu.Unlock()
	if p.terminated {
		return nil
	}
	if err := p.signalTree("terminate", (*psprocess.Process).Terminate); err != nil {
		return err
	}
	p.terminated = true
	return nil
}

// Kill sends SIGKILL to the worker and every process it spawned.
func (p *Process) Kill() error {
	return p.signalTree("kill", (*psprocess.Process).Kill)
}

// signalTree signals descendants before the worker itself so that helpers
// such as ffmpeg are not orphaned. Only a failure to signal the worker is
// reported.
func (p *Process) signalTree(action string, signal func(*psprocess.Process) error) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}

	pid := p.PID()
	root, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("failed to %s worker %d: %w", action, pid, err)
	}

	for _, child := range descendants(root) {
		if err := signal(child); err != nil {
			p.stderr.log.Debug("failed to signal worker descendant",
				"action", action, "pid", child.Pid, "error", err)
		}
	}
	if err := signal(root); err != nil {
		return fmt.Errorf("failed to %s worker %d: %w", action, pid, err)
	}
	return nil
}

func descendants(p *psprocess.Process) []*psprocess.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*psprocess.Process
	for _, child := range children {
		out = append(out, descendants(child)...)
		out = append(out, child)
	}
	return out
}

// Wait blocks until the worker exits and returns its parsed result.
func (p *Process) Wait() (Output, error) {
	<-p.done

	out, parseErr := ParseOutput(p.stdout.Bytes())

	if p.waitErr != nil {
		if ctxErr := p.ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("%s worker cancelled: %w", p.kind, ctxErr)
		}
		if parseErr == nil && !out.Success && out.Error != "" {
			return out, fmt.Errorf("%w: %s", ErrWorkerReportedFailure, out.Error)
		}
		return Output{}, p.exitError(p.waitErr)
	}

	if parseErr != nil {
		return Output{}, parseErr
	}
	if !out.Success {
		return out, fmt.Errorf("%w: %s", ErrWorkerReportedFailure, out.Error)
	}
	return out, nil
}

func (p *Process) exitError(cause error) error {
	tail := p.stderr.Tail()
	var exitErr *exec.ExitError
	if errors.As(cause, &exitErr) && len(tail) > 0 {
		return fmt.Errorf("%w: %w: %s", ErrWorkerExited, cause, strings.Join(tail, " | "))
	}
	return fmt.Errorf("%w: %w", ErrWorkerExited, cause)
}
