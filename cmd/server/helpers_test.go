package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/service"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withTestEnv points configuration at a temporary sqlite file.
// Tests using it cannot run in parallel.
func withTestEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("STUDYKIT_DATABASE_DRIVER", "sqlite")
	t.Setenv("STUDYKIT_DATABASE_URL", dbPath)
	t.Setenv("STUDYKIT_SERVER_LOG_LEVEL", "error")
	t.Setenv("STUDYKIT_AUTH_JWT_SECRET", testSecret)
	return dbPath
}

// runCommand executes the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRunCommand(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCommand(t, args...)
	require.NoError(t, err, out)
	return out
}

func startInput(text string) service.StartJobInput {
	return service.StartJobInput{
		Input: domain.Input{Kind: domain.InputKindDocument, Text: text},
	}
}
