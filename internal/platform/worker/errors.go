package worker

import "errors"

var (
	// ErrEmptyCommand is returned when a command template has no program.
	ErrEmptyCommand = errors.New("worker command is empty")

	// ErrInsufficientResources is returned when the host lacks the memory or
	// disk a new worker needs.
	ErrInsufficientResources = errors.New("insufficient system resources")

	// ErrInvalidOutput is returned when a worker does not print a JSON result.
	ErrInvalidOutput = errors.New("worker produced no JSON result")

	// ErrWorkerReportedFailure is returned when a worker's result has success=false.
	ErrWorkerReportedFailure = errors.New("worker reported failure")

	// ErrWorkerExited is returned when a worker exits with a non-zero status
	// and prints nothing usable.
	ErrWorkerExited = errors.New("worker exited abnormally")
)
