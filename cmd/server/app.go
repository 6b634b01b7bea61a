package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/studykit/internal/api"
	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/events"
	"github.com/phrazzld/studykit/internal/extract"
	"github.com/phrazzld/studykit/internal/generation"
	"github.com/phrazzld/studykit/internal/pipeline"
	"github.com/phrazzld/studykit/internal/platform/gemini"
	"github.com/phrazzld/studykit/internal/platform/ollama"
	"github.com/phrazzld/studykit/internal/platform/openrouter"
	"github.com/phrazzld/studykit/internal/platform/worker"
	"github.com/phrazzld/studykit/internal/process"
	"github.com/phrazzld/studykit/internal/service"
	"github.com/phrazzld/studykit/internal/service/auth"
)

// application holds the wired dependencies of the server.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	backend    *backend
	jobService service.JobService
	// jwtService is nil when authentication is disabled.
	jwtService auth.JWTService
	checks     map[string]api.Pinger
}

// newApplication wires the job pipeline on top of an open backend.
func newApplication(ctx context.Context, cfg *config.Config, b *backend, logger *slog.Logger) (*application, error) {
	providers, err := buildProviders(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	prompts, err := pipeline.LoadPrompts(cfg.Pipeline.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLoggingHandler(logger))

	registry := process.NewRegistry(cfg.Worker.GracePeriod(), logger)
	extractor, err := extract.NewWorkerExtractor(worker.NewLauncher(cfg.Worker, logger), registry, cfg.Worker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	generator := generation.NewFallbackClient(generation.RetryPolicy{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.LLM.RetryBaseDelay(),
	}, logger)

	controller, err := pipeline.NewController(b.jobs, extractor, generator, pipeline.Options{
		Providers:             providers,
		DefaultOrder:          providerOrder(cfg.LLM.DefaultOrder),
		DeterministicFallback: cfg.Pipeline.DeterministicFallback,
		StoreRetryDelay:       cfg.Pipeline.StoreRetryDelay(),
		Prompts:               prompts,
		Emitter:               emitter,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	jobService, err := service.NewJobService(b.jobs, controller, registry, cfg.Pipeline.StoreRetryDelay(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	var jwtService auth.JWTService
	if cfg.Auth.Enabled {
		jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
	}

	return &application{
		config:     cfg,
		logger:     logger,
		backend:    b,
		jobService: jobService,
		jwtService: jwtService,
		checks:     map[string]api.Pinger{"store": b.db},
	}, nil
}

// buildProviders creates a provider for every family that is configured.
// Unconfigured families are skipped; the pipeline falls through them.
func buildProviders(
	ctx context.Context,
	cfg config.LLMConfig,
	logger *slog.Logger,
) (map[domain.ModelSelection]generation.Provider, error) {
	providers := make(map[domain.ModelSelection]generation.Provider)

	if cfg.GeminiAPIKey != "" {
		p, err := gemini.NewProvider(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		providers[domain.ModelSelectionGemini] = p
	}
	if cfg.OpenRouterAPIKey != "" {
		p, err := openrouter.NewClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create openrouter provider: %w", err)
		}
		providers[domain.ModelSelectionOpenRouter] = p
	}
	if cfg.OllamaBaseURL != "" {
		p, err := ollama.NewClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create local provider: %w", err)
		}
		providers[domain.ModelSelectionLocal] = p
	}

	names := make([]string, 0, len(providers))
	for family := range providers {
		names = append(names, string(family))
	}
	if len(providers) == 0 {
		logger.Warn("no generation provider configured, stages will use the deterministic fallback or fail")
	} else {
		logger.Info("generation providers configured", slog.Any("providers", names))
	}
	return providers, nil
}

func providerOrder(names []string) []domain.ModelSelection {
	order := make([]domain.ModelSelection, 0, len(names))
	for _, name := range names {
		order = append(order, domain.ModelSelection(name))
	}
	return order
}

// shutdown stops running jobs and closes the backend.
func (app *application) shutdown(ctx context.Context) error {
	var errs []error
	if err := app.jobService.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close job store: %w", err))
		}
	}
	return errors.Join(errs...)
}
