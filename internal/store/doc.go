// Package store defines interfaces for job persistence. The interfaces
// abstract the underlying storage mechanism from the pipeline and service
// layers; PostgreSQL and SQLite implementations live under
// internal/platform.
//
// Every mutation is conditional on the job not having reached a terminal
// status, so late writes from a cancelled pipeline are rejected with
// ErrJobTerminal instead of overwriting the final state.
package store
