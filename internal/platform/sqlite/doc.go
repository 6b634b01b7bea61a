// Package sqlite provides an embedded SQLite implementation of store.JobStore
// built on the pure-Go modernc.org/sqlite driver. It is the default backend
// for single-node deployments and local development.
package sqlite
