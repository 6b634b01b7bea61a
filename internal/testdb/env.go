package testdb

import (
	"log/slog"
	"os"

	"github.com/phrazzld/studykit/internal/platform/migrate"
)

// Environment variables consulted by the helpers.
const (
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"

	EnvDatabaseURL         = "DATABASE_URL"
	EnvTestDatabaseURL     = "STUDYKIT_TEST_DATABASE_URL"
	EnvStudykitDatabaseURL = "STUDYKIT_DATABASE_URL"
)

// IsCI reports whether the tests run under a CI provider.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != ""
}

// PostgresURL returns the first configured PostgreSQL test URL, or "".
// A URL taken from a variable other than STUDYKIT_TEST_DATABASE_URL is
// logged at warn level.
func PostgresURL(logger *slog.Logger) string {
	envVars := []string{EnvTestDatabaseURL, EnvDatabaseURL, EnvStudykitDatabaseURL}
	for i, envVar := range envVars {
		val := os.Getenv(envVar)
		if val == "" {
			continue
		}
		if i > 0 && logger != nil {
			logger.Warn("using fallback database URL variable",
				slog.String("used_var", envVar),
				slog.String("preferred_var", EnvTestDatabaseURL),
				slog.String("url", migrate.MaskURL(val)))
		}
		return val
	}
	return ""
}
