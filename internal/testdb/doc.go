// Package testdb provides job store databases for tests.
//
// SQLite databases are created in a temporary directory and always available.
// PostgreSQL tests need a server: the URL is read from DATABASE_URL,
// STUDYKIT_TEST_DATABASE_URL or STUDYKIT_DATABASE_URL. Without one, tests are
// skipped locally and fail in CI so that a misconfigured pipeline is noticed.
package testdb
