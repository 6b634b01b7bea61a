// Package events carries job lifecycle notifications from the pipeline to
// interested components.
//
// The pipeline controller emits a JobEvent when a job starts, when each stage
// finishes, and when the job reaches a terminal status. Handlers registered
// on an InMemoryEventEmitter receive every event synchronously; the emitter
// never lets a failing handler affect the job.
//
// The primary components are:
// - JobEvent: one lifecycle notification
// - EventHandler: interface for components that consume events
// - EventEmitter: interface for components that publish events
// - LoggingHandler: writes every event to a structured logger
// - Recorder: keeps events in memory for inspection
package events
