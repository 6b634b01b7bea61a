package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/domain"
)

// Type identifies what happened to a job.
type Type string

// Lifecycle event types
const (
	TypeJobStarted     Type = "job.started"
	TypeStageCompleted Type = "stage.completed"
	TypeStageFailed    Type = "stage.failed"
	TypeStageSkipped   Type = "stage.skipped"
	TypeJobFinished    Type = "job.finished"
)

// JobEvent is one lifecycle notification for a job.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type  Type      `json:"type"`
	JobID uuid.UUID `json:"job_id"`

	// Stage is set for stage events.
	Stage domain.Stage `json:"stage,omitempty"`

	// Status is the job status after the event.
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`

	// Provider names the generation provider that produced a stage output.
	Provider string `json:"provider,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates an event of the given type for a job.
func NewJobEvent(eventType Type, jobID uuid.UUID, status domain.JobStatus, progress int) *JobEvent {
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		CreatedAt: time.Now().UTC(),
	}
}

// ForStage sets the stage of the event and returns it.
func (e *JobEvent) ForStage(stage domain.Stage) *JobEvent {
	e.Stage = stage
	return e
}

// WithError records err on the event and returns it.
func (e *JobEvent) WithError(err error) *JobEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the pipeline to publish events without knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}
