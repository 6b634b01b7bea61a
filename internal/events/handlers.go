package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/platform/logger"
)

// LoggingHandler writes every event to a structured logger. Failed stages
// are logged at warn level, everything else at info.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler. If log is nil, the default logger is used.
func NewLoggingHandler(log *slog.Logger) *LoggingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingHandler{logger: log.With("component", "job_events")}
}

// HandleEvent implements EventHandler.
func (h *LoggingHandler) HandleEvent(ctx context.Context, event *JobEvent) error {
	log := logger.FromContextOrDefault(ctx, h.logger)

	attrs := []any{
		slog.String("event_type", string(event.Type)),
		slog.String("job_id", event.JobID.String()),
		slog.String("status", string(event.Status)),
		slog.Int("progress", event.Progress),
	}
	if event.Stage != "" {
		attrs = append(attrs, slog.String("stage", string(event.Stage)))
	}
	if event.Provider != "" {
		attrs = append(attrs, slog.String("provider", event.Provider), slog.Bool("degraded", event.Degraded))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	level := slog.LevelInfo
	if event.Type == TypeStageFailed {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "job event", attrs...)
	return nil
}

// Recorder keeps every event it handles. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []*JobEvent
}

// HandleEvent implements EventHandler.
func (r *Recorder) HandleEvent(_ context.Context, event *JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events, optionally filtered to one job.
func (r *Recorder) Events(jobID uuid.UUID) []*JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*JobEvent, 0, len(r.events))
	for _, e := range r.events {
		if jobID == uuid.Nil || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the event types recorded for jobID, in order.
func (r *Recorder) Types(jobID uuid.UUID) []Type {
	events := r.Events(jobID)
	types := make([]Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
