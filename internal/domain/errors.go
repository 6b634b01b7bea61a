package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInputInvalid is returned when a job input is empty or malformed.
	// It is surfaced synchronously, before any job is created.
	ErrInputInvalid = errors.New("invalid job input")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not one of the known values.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the job state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidModelSelection is returned for an unknown provider family.
	ErrInvalidModelSelection = errors.New("invalid model selection")

	// ErrInvalidProgress is returned when progress falls outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrUnknownStage is returned for a stage name outside the fixed graph.
	ErrUnknownStage = errors.New("unknown pipeline stage")

	// ErrInvalidArtifact is returned when a generated artifact fails structural validation.
	ErrInvalidArtifact = errors.New("invalid artifact")
)
