// Package service contains the application-level use cases. JobService is
// the externally reachable boundary of the pipeline: it validates and
// persists new jobs, hands them to the stage controller in the background,
// and stops them on request.
//
// The service layer depends on domain entities and the repository
// interfaces defined in internal/store, never on a specific storage
// backend. Process cancellation is reached through the ProcessCanceller
// interface, which the process registry satisfies.
//
// Error handling:
//   - Expected conditions are returned as sentinel errors (ErrShuttingDown,
//     store.ErrJobNotFound, domain.ErrInputInvalid) so callers can use errors.Is
//   - Unexpected failures are wrapped in JobServiceError with the operation
//     that failed
//   - The API layer maps these errors to HTTP status codes
package service
