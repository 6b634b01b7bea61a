package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/events"
	"github.com/phrazzld/studykit/internal/extract"
	"github.com/phrazzld/studykit/internal/generation"
	"github.com/phrazzld/studykit/internal/generation/extractive"
	"github.com/phrazzld/studykit/internal/platform/logger"
	"github.com/phrazzld/studykit/internal/redact"
	"github.com/phrazzld/studykit/internal/store"
)

var (
	// ErrSummaryUnavailable is recorded on the slides stage when summarize
	// produced no usable summary.
	ErrSummaryUnavailable = errors.New("summary unavailable")

	// ErrStagePanicked is recorded on a job whose stage panicked.
	ErrStagePanicked = errors.New("pipeline stage panicked")
)

// DefaultProviderOrder is used when Options.DefaultOrder is empty.
var DefaultProviderOrder = []domain.ModelSelection{
	domain.ModelSelectionGemini,
	domain.ModelSelectionOpenRouter,
	domain.ModelSelectionLocal,
}

// Generator runs one generation request against an ordered provider list.
// *generation.FallbackClient implements it.
type Generator interface {
	Generate(
		ctx context.Context,
		req generation.Request,
		providers []generation.Provider,
		fallback generation.Fallback,
	) (*generation.Result, error)
}

// Options configures a Controller.
type Options struct {
	// Providers holds the configured provider of each family.
	Providers map[domain.ModelSelection]generation.Provider
	// DefaultOrder is the family priority tried after the job's requested family.
	DefaultOrder []domain.ModelSelection
	// DeterministicFallback enables extractive output once every provider is exhausted.
	DeterministicFallback bool
	// StoreRetryDelay is the pause before a failed store write is retried.
	StoreRetryDelay time.Duration
	// Prompts renders stage prompts. The embedded templates are used when nil.
	Prompts *Prompts
	// Emitter receives lifecycle events. Events are dropped when nil.
	Emitter events.EventEmitter
}

// Controller executes the stage graph of one job at a time per Run call:
// extract first, then classify, summarize, quiz and flashcards concurrently,
// with slides waiting for summarize.
type Controller struct {
	store     store.JobStore
	extractor extract.Extractor
	generator Generator
	opts      Options
	logger    *slog.Logger
}

// NewController creates a Controller.
func NewController(
	jobs store.JobStore,
	extractor extract.Extractor,
	generator Generator,
	opts Options,
	log *slog.Logger,
) (*Controller, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Prompts == nil {
		prompts, err := LoadPrompts("")
		if err != nil {
			return nil, err
		}
		opts.Prompts = prompts
	}
	if len(opts.DefaultOrder) == 0 {
		opts.DefaultOrder = DefaultProviderOrder
	}
	if opts.StoreRetryDelay <= 0 {
		opts.StoreRetryDelay = store.DefaultWriteRetryDelay
	}

	return &Controller{
		store:     jobs,
		extractor: extractor,
		generator: generator,
		opts:      opts,
		logger:    log.With(slog.String("component", "pipeline")),
	}, nil
}

// jobRun is the state of one Run call shared by its stages.
type jobRun struct {
	job       *domain.Job
	providers []generation.Provider

	mu       sync.Mutex
	progress int
}

// advance raises the run's progress for a completed stage. It reports
// whether progress moved.
func (r *jobRun) advance(stage domain.Stage) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := domain.ProgressAfter(r.progress, stage)
	moved := next > r.progress
	r.progress = next
	return next, moved
}

func (r *jobRun) currentProgress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Run executes the pipeline for jobID, which must be in the created status.
// ctx is the job's cancellation token: once it is done no further stage
// starts, in-flight generation results are discarded, extract workers are
// killed, and no further store write is made. The stopped status is written
// by whoever cancelled the token.
//
// Stage failures are recorded on the job, not returned. Run returns an error
// only when the job cannot be loaded or its status cannot be written.
func (c *Controller) Run(ctx context.Context, jobID uuid.UUID) (err error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("job_id", jobID.String()))
	ctx = logger.WithLogger(ctx, log)

	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Info("job already finished, nothing to run", slog.String("status", string(job.Status)))
		return nil
	}
	if job.Status != domain.JobStatusCreated {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, job.Status)
	}

	run := &jobRun{
		job:       job,
		providers: generation.PriorityOrder(job.ModelSelection, c.opts.DefaultOrder, c.opts.Providers),
		progress:  job.Progress,
	}

	if err := c.write(ctx, func(ctx context.Context) error {
		return c.store.SetStatus(ctx, jobID, domain.JobStatusRunning, "")
	}); err != nil {
		if ctx.Err() != nil || errors.Is(err, store.ErrJobTerminal) {
			log.Info("job stopped before it started")
			return nil
		}
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	c.emit(ctx, events.NewJobEvent(events.TypeJobStarted, jobID, domain.JobStatusRunning, run.currentProgress()))
	log.Info("pipeline started",
		slog.String("input_kind", string(job.Input.Kind)),
		slog.Int("providers", len(run.providers)))

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panicked", slog.Any("panic", p))
			err = c.finish(ctx, run, domain.JobStatusFailed, fmt.Errorf("%w: %v", ErrStagePanicked, p))
		}
	}()

	transcript, err := c.extract(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("pipeline cancelled during extract")
			return nil
		}
		log.Warn("extract failed", slog.String("error", redact.Error(err)))
		return c.finish(ctx, run, domain.JobStatusFailed, err)
	}

	if recovered := c.generate(ctx, run, transcript); recovered != nil {
		log.Error("stage panicked", slog.String("panic", fmt.Sprint(recovered.Value)))
		if ctx.Err() != nil {
			return nil
		}
		return c.finish(ctx, run, domain.JobStatusFailed, fmt.Errorf("%w: %v", ErrStagePanicked, recovered.Value))
	}

	if ctx.Err() != nil {
		log.Info("pipeline cancelled")
		return nil
	}
	return c.finish(ctx, run, domain.JobStatusCompleted, nil)
}

// extract runs the root stage and records the transcript.
func (c *Controller) extract(ctx context.Context, run *jobRun) (*domain.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	transcript, err := c.extractor.Extract(ctx, run.job)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	out, err := domain.NewStageOutput(domain.StageExtract, transcript, "", false)
	if err != nil {
		return nil, err
	}
	if err := c.record(ctx, run, out, events.TypeStageCompleted); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return transcript, nil
}

// generate fans out the post-extract stages and waits for all of them.
// It returns the first recovered panic, if any.
func (c *Controller) generate(ctx context.Context, run *jobRun, transcript *domain.Transcript) *panics.Recovered {
	data := PromptData{Text: transcript.Text, Language: transcript.Language}
	summaries := make(chan domain.Summary, 1)

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		_, _ = runStage[domain.Classification](ctx, c, run, domain.StageClassify, data)
	})
	wg.Go(func() {
		defer close(summaries)
		if summary, ok := runStage[domain.Summary](ctx, c, run, domain.StageSummarize, data); ok {
			summaries <- summary
		}
	})
	wg.Go(func() {
		_, _ = runStage[domain.Quiz](ctx, c, run, domain.StageQuiz, data)
	})
	wg.Go(func() {
		_, _ = runStage[domain.FlashcardSet](ctx, c, run, domain.StageFlashcards, data)
	})
	wg.Go(func() {
		summary, ok := <-summaries
		if !ok {
			c.recordFailure(ctx, run, domain.StageSlides, ErrSummaryUnavailable, events.TypeStageSkipped)
			return
		}
		slideData := PromptData{Text: summaryText(summary), Language: data.Language}
		_, _ = runStage[domain.SlideDeck](ctx, c, run, domain.StageSlides, slideData)
	})

	return wg.WaitAndRecover()
}

// runStage generates, validates and records the artifact of one stage. It
// reports whether a non-empty output was recorded. A failed generation is
// recorded as an empty output; a cancelled run records nothing.
func runStage[T generation.Validator](
	ctx context.Context,
	c *Controller,
	run *jobRun,
	stage domain.Stage,
	data PromptData,
) (T, bool) {
	var artifact T
	if ctx.Err() != nil {
		return artifact, false
	}
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("stage", string(stage)))

	result, err := c.complete(ctx, stage, run.providers, data, generation.ValidateAs[T]())
	if err == nil {
		err = decodeArtifact(result.Text, &artifact)
	}
	if ctx.Err() != nil {
		log.Debug("discarding stage result of cancelled job")
		return artifact, false
	}
	if err != nil {
		log.Warn("stage failed", slog.String("error", redact.Error(err)))
		c.recordFailure(ctx, run, stage, err, events.TypeStageFailed)
		return artifact, false
	}

	out, err := domain.NewStageOutput(stage, artifact, result.Provider, result.Degraded)
	if err != nil {
		c.recordFailure(ctx, run, stage, err, events.TypeStageFailed)
		return artifact, false
	}
	if err := c.record(ctx, run, out, events.TypeStageCompleted); err != nil {
		return artifact, false
	}
	return artifact, true
}

// complete renders the stage prompt and runs it through the generator. The
// call is detached from ctx so an in-flight request finishes even when the
// job is stopped; the caller discards the result in that case.
func (c *Controller) complete(
	ctx context.Context,
	stage domain.Stage,
	providers []generation.Provider,
	data PromptData,
	validate func(string) error,
) (*generation.Result, error) {
	prompt, err := c.opts.Prompts.Render(stage, data)
	if err != nil {
		return nil, err
	}

	var fallback generation.Fallback
	if c.opts.DeterministicFallback {
		fallback, _ = extractive.Fallback(stage)
	}

	req := generation.Request{Stage: stage, Prompt: prompt, Input: data.Text, Validate: validate}
	result, err := c.generator.Generate(context.WithoutCancel(ctx), req, providers, fallback)
	if err != nil {
		return nil, err
	}

	log := logger.FromContextOrDefault(ctx, c.logger)
	for _, a := range result.Attempts {
		log.Debug("provider attempt",
			slog.String("stage", string(stage)),
			slog.String("provider", a.Provider),
			slog.Int("attempt", a.Number),
			slog.String("outcome", string(a.Outcome)),
			slog.Int64("latency_ms", a.Latency.Milliseconds()))
	}
	return result, nil
}

func decodeArtifact[T generation.Validator](text string, artifact *T) error {
	if err := generation.DecodeJSON(text, artifact); err != nil {
		return err
	}
	return (*artifact).Validate()
}

// recordFailure records stage as empty with cause.
func (c *Controller) recordFailure(ctx context.Context, run *jobRun, stage domain.Stage, cause error, eventType events.Type) {
	out := domain.EmptyStageOutput(stage, errors.New(redact.Error(cause)))
	_ = c.record(ctx, run, out, eventType)
}

// record persists out with one store write, retried once, then raises the
// job's progress to the stage's band and emits eventType.
func (c *Controller) record(ctx context.Context, run *jobRun, out *domain.StageOutput, eventType events.Type) error {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("stage", string(out.Stage)))
	jobID := run.job.ID

	if err := c.write(ctx, func(ctx context.Context) error {
		return c.store.SaveStageOutput(ctx, jobID, out)
	}); err != nil {
		if ctx.Err() == nil {
			log.Error("failed to record stage output", slog.String("error", redact.Error(err)))
			c.emit(ctx, events.NewJobEvent(events.TypeStageFailed, jobID, domain.JobStatusRunning, run.currentProgress()).
				ForStage(out.Stage).
				WithError(err))
		}
		return err
	}

	progress, moved := run.advance(out.Stage)
	if moved {
		if err := c.write(ctx, func(ctx context.Context) error {
			return c.store.SetProgress(ctx, jobID, progress)
		}); err != nil && ctx.Err() == nil {
			log.Warn("failed to record progress",
				slog.Int("progress", progress),
				slog.String("error", redact.Error(err)))
		}
	}

	event := events.NewJobEvent(eventType, jobID, domain.JobStatusRunning, progress).ForStage(out.Stage)
	event.Provider = out.Provider
	event.Degraded = out.Degraded
	event.Error = out.Error
	c.emit(ctx, event)

	log.Info("stage recorded",
		slog.Bool("empty", out.Empty),
		slog.Bool("degraded", out.Degraded),
		slog.String("provider", out.Provider),
		slog.Int("progress", progress))
	return nil
}

// finish writes the terminal status of a run. A job that was stopped
// concurrently keeps its stopped status.
func (c *Controller) finish(ctx context.Context, run *jobRun, status domain.JobStatus, cause error) error {
	log := logger.FromContextOrDefault(ctx, c.logger)
	message := ""
	if cause != nil {
		message = redact.Error(cause)
	}

	err := c.write(ctx, func(ctx context.Context) error {
		return c.store.SetStatus(ctx, run.job.ID, status, message)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil, errors.Is(err, store.ErrJobTerminal):
		log.Info("job reached a terminal status elsewhere", slog.String("wanted", string(status)))
		return nil
	default:
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}

	c.emit(ctx, events.NewJobEvent(events.TypeJobFinished, run.job.ID, status, run.currentProgress()).WithError(cause))
	log.Info("pipeline finished",
		slog.String("status", string(status)),
		slog.Int("progress", run.currentProgress()))
	return nil
}

// write runs a store write unless the job has been cancelled.
func (c *Controller) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.WriteWithRetry(ctx, c.opts.StoreRetryDelay, fn)
}

func (c *Controller) emit(ctx context.Context, event *events.JobEvent) {
	if c.opts.Emitter == nil {
		return
	}
	_ = c.opts.Emitter.EmitEvent(ctx, event)
}

// summaryText flattens a summary into the slides prompt input.
func summaryText(s domain.Summary) string {
	var b strings.Builder
	if intro := strings.TrimSpace(s.Introduction); intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(s.Body))
	for _, point := range s.KeyPoints {
		b.WriteString("\n- ")
		b.WriteString(point)
	}
	return b.String()
}
