package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

// Possible job status values
const (
	JobStatusCreated   JobStatus = "created"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// TerminalStatuses lists the states a job never leaves.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusStopped}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusCreated, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s accepts no further mutation.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces created -> running -> {completed, failed, stopped}.
// A created job may also be stopped or failed before it starts running.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusCreated:
		return next == JobStatusRunning || next == JobStatusStopped || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusStopped
	default:
		return false
	}
}

// ModelSelection names the generation provider family requested for a job.
// It decides which provider is tried first; the others remain as fallbacks.
type ModelSelection string

// Known provider families
const (
	ModelSelectionAuto       ModelSelection = "auto"
	ModelSelectionGemini     ModelSelection = "gemini"
	ModelSelectionOpenRouter ModelSelection = "openrouter"
	ModelSelectionLocal      ModelSelection = "local"
)

// IsValid reports whether m is a known provider family. The empty value is
// accepted and treated as auto.
func (m ModelSelection) IsValid() bool {
	switch m {
	case "", ModelSelectionAuto, ModelSelectionGemini, ModelSelectionOpenRouter, ModelSelectionLocal:
		return true
	default:
		return false
	}
}

// Job is one end-to-end processing run for one input.
type Job struct {
	ID             uuid.UUID              `json:"id"`
	OwnerID        uuid.UUID              `json:"owner_id"`
	Status         JobStatus              `json:"status"`
	Progress       int                    `json:"progress"`
	ModelSelection ModelSelection         `json:"model_selection"`
	Input          Input                  `json:"input"`
	StageOutputs   map[Stage]*StageOutput `json:"stage_outputs,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewJob creates a job in the created state for the given input.
// Returns an error wrapping ErrInputInvalid if the input is rejected.
func NewJob(ownerID uuid.UUID, input Input, selection ModelSelection) (*Job, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if !selection.IsValid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInputInvalid, ErrInvalidModelSelection, selection)
	}
	if selection == "" {
		selection = ModelSelectionAuto
	}

	now := time.Now().UTC()
	return &Job{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Status:         JobStatusCreated,
		Progress:       0,
		ModelSelection: selection,
		Input:          input.Normalized(),
		StageOutputs:   make(map[Stage]*StageOutput),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job ID cannot be empty", ErrInvalidID)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return ErrInvalidProgress
	}
	if !j.ModelSelection.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidModelSelection, j.ModelSelection)
	}
	return j.Input.Validate()
}

// Output returns the recorded output for stage, or nil.
func (j *Job) Output(stage Stage) *StageOutput {
	if j.StageOutputs == nil {
		return nil
	}
	return j.StageOutputs[stage]
}
