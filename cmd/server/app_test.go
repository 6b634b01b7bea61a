package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, LogLevel: "error", ShutdownTimeoutSeconds: 5},
		Database: config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "jobs.db")},
		LLM: config.LLMConfig{
			GeminiModel:           "gemini-2.0-flash",
			OpenRouterModel:       "google/gemini-2.0-flash-001",
			OpenRouterBaseURL:     "https://openrouter.ai/api/v1",
			OllamaModel:           "llama3.1",
			DefaultOrder:          []string{"local", "gemini"},
			MaxRetries:            1,
			RetryBaseDelayMS:      10,
			RequestTimeoutSeconds: 5,
		},
		Worker: config.WorkerConfig{
			PythonBin:          "python3",
			TranscribeCommand:  "{python} workers/transcribe_audio.py",
			DownloadCommand:    "{python} workers/download_youtube_audio.py",
			WhisperModel:       "base",
			Device:             "cpu",
			GracePeriodSeconds: 1,
			WorkDir:            t.TempDir(),
		},
		Pipeline: config.PipelineConfig{DeterministicFallback: true, StoreRetryDelayMS: 10},
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	t.Run("none configured", func(t *testing.T) {
		t.Parallel()
		providers, err := buildProviders(context.Background(), testConfig(t).LLM, discardLogger())
		require.NoError(t, err)
		assert.Empty(t, providers)
	})

	t.Run("openrouter and local", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t).LLM
		cfg.OpenRouterAPIKey = "or-key"
		cfg.OllamaBaseURL = "http://127.0.0.1:11434"

		providers, err := buildProviders(context.Background(), cfg, discardLogger())
		require.NoError(t, err)
		require.Len(t, providers, 2)
		assert.Equal(t, "openrouter", providers[domain.ModelSelectionOpenRouter].Name())
		assert.Equal(t, "local", providers[domain.ModelSelectionLocal].Name())
	})
}

func TestProviderOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		[]domain.ModelSelection{domain.ModelSelectionLocal, domain.ModelSelectionGemini},
		providerOrder([]string{"local", "gemini"}))
	assert.Empty(t, providerOrder(nil))
}

func TestNewApplication_RunsDocumentJobWithFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	logger := discardLogger()

	b, err := openBackend(ctx, cfg.Database, logger)
	require.NoError(t, err)
	migrator, err := b.migrator(logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(ctx))

	app, err := newApplication(ctx, cfg, b, logger)
	require.NoError(t, err)
	assert.Nil(t, app.jwtService)

	text := "Mitochondria are the organelles that produce energy for the cell. " +
		"They convert nutrients into adenosine triphosphate through cellular respiration. " +
		"Each cell can contain hundreds of mitochondria depending on its energy needs. " +
		"Muscle cells have especially many mitochondria because they use a lot of energy. " +
		"Mitochondria also have their own small genome inherited from the mother."
	job, err := app.jobService.Start(ctx, startInput(text))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := b.jobs.GetByID(ctx, job.ID)
		return err == nil && got.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	got, err := b.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.StageOutputs[domain.StageSummarize])
	assert.True(t, got.StageOutputs[domain.StageSummarize].Degraded)

	require.NoError(t, app.shutdown(ctx))
}

func TestNewApplication_AuthEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: testSecret, TokenLifetimeMinutes: 5}

	b, err := openBackend(ctx, cfg.Database, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	app, err := newApplication(ctx, cfg, b, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, app.jwtService)

	token, err := app.jwtService.GenerateToken(ctx, uuid.New())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestNewApplication_RejectsShortSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "short", TokenLifetimeMinutes: 5}

	b, err := openBackend(ctx, cfg.Database, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = newApplication(ctx, cfg, b, discardLogger())
	assert.Error(t, err)
}
