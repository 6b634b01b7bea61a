package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is.
var (
	// ErrShuttingDown is returned by Start once Shutdown has begun.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrShuttingDown = errors.New("service is shutting down")
)

// JobServiceError wraps errors from the job service with context.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "start_job", "stop_job")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for JobServiceError.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a new JobServiceError.
// Known sentinel errors are returned as is so that callers and the API layer
// can match them without unwrapping.
func NewJobServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrShuttingDown):
		return ErrShuttingDown
	case errors.Is(err, store.ErrJobNotFound):
		return store.ErrJobNotFound
	case errors.Is(err, domain.ErrInputInvalid):
		// Keep the validation detail; it is safe to show to the caller.
		return err
	}

	return &JobServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
