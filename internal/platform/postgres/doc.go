// Package postgres provides the PostgreSQL implementation of store.JobStore.
// It handles connection setup through the pgx database/sql driver, embedded
// goose migrations, query execution, and mapping between domain jobs and
// database rows.
package postgres
