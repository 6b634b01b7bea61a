// Package extract implements the root pipeline stage: turning a job's raw
// input into a transcript, spawning external workers when needed.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/platform/logger"
	"github.com/phrazzld/studykit/internal/platform/worker"
	"github.com/phrazzld/studykit/internal/process"
)

// Extractor produces a transcript for a job.
type Extractor interface {
	Extract(ctx context.Context, job *domain.Job) (*domain.Transcript, error)
}

// Registrar is the part of the process registry the extractor needs.
type Registrar interface {
	Register(ctx context.Context, jobID uuid.UUID, handle process.Handle, kind process.Kind) error
	Unregister(jobID uuid.UUID, handle process.Handle)
}

// WorkerExtractor extracts transcripts with external workers. Every spawned
// worker is registered under its job so that a stop request can kill it.
type WorkerExtractor struct {
	spawner  worker.Spawner
	registry Registrar
	cfg      config.WorkerConfig
	logger   *slog.Logger
}

var _ Extractor = (*WorkerExtractor)(nil)

// NewWorkerExtractor creates an extractor.
func NewWorkerExtractor(
	spawner worker.Spawner,
	registry Registrar,
	cfg config.WorkerConfig,
	log *slog.Logger,
) (*WorkerExtractor, error) {
	if spawner == nil {
		return nil, fmt.Errorf("spawner cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerExtractor{
		spawner:  spawner,
		registry: registry,
		cfg:      cfg,
		logger:   log.With(slog.String("component", "extractor")),
	}, nil
}

// transcribeResult is the transcription worker's result object.
type transcribeResult struct {
	Transcript string           `json:"transcript"`
	Language   string           `json:"language"`
	WordCount  int              `json:"wordCount"`
	Segments   []domain.Segment `json:"segments"`
}

// infoResult is the video info worker's result object.
type infoResult struct {
	VideoID         string `json:"videoId"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"durationSeconds"`
	ChannelName     string `json:"channelName"`
	ThumbnailURL    string `json:"thumbnailUrl"`
}

// downloadResult is the audio download worker's result object.
type downloadResult struct {
	FilePath string `json:"filePath"`
	FileSize int64  `json:"fileSize"`
}

// Extract dispatches on the input kind. Worker failures wrap
// ErrExternalProcessFailed; cancellation returns the context error.
func (e *WorkerExtractor) Extract(ctx context.Context, job *domain.Job) (*domain.Transcript, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("job_id", job.ID.String()),
		slog.String("input_kind", string(job.Input.Kind)))

	var (
		transcript *domain.Transcript
		err        error
	)
	switch job.Input.Kind {
	case domain.InputKindDocument:
		transcript = &domain.Transcript{Text: job.Input.Text, Language: job.Input.Language}
	case domain.InputKindUpload:
		transcript, err = e.transcribe(ctx, job, job.Input.Reference)
	case domain.InputKindVideo:
		transcript, err = e.extractVideo(ctx, log, job)
	default:
		return nil, fmt.Errorf("%w: unknown input kind %q", domain.ErrInputInvalid, job.Input.Kind)
	}
	if err != nil {
		return nil, err
	}

	transcript.Text = CleanTranscript(transcript.Text)
	transcript.WordCount = WordCount(transcript.Text)
	if transcript.Text == "" {
		return nil, ErrEmptyTranscript
	}

	log.Info("extraction completed", slog.Int("word_count", transcript.WordCount))
	return transcript, nil
}

// extractVideo looks up the video's metadata, then prefers published
// captions and falls back to downloading the audio and transcribing it.
func (e *WorkerExtractor) extractVideo(ctx context.Context, log *slog.Logger, job *domain.Job) (*domain.Transcript, error) {
	videoID, err := domain.ParseVideoID(job.Input.Reference)
	if err != nil {
		return nil, err
	}

	info, err := e.videoInfo(ctx, log, job.ID, videoID)
	if err != nil {
		return nil, err
	}

	transcript, err := e.videoTranscript(ctx, log, job, videoID)
	if err != nil {
		return nil, err
	}
	transcript.Video = info
	return transcript, nil
}

// videoInfo runs the info worker. Metadata is optional: only cancellation
// is returned as an error, any other failure yields nil info.
func (e *WorkerExtractor) videoInfo(ctx context.Context, log *slog.Logger, jobID uuid.UUID, videoID string) (*domain.VideoInfo, error) {
	if e.cfg.InfoCommand == "" {
		return nil, nil
	}
	argv, err := worker.SplitCommand(e.cfg.InfoCommand, e.cfg.PythonBin, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}

	out, err := e.run(ctx, jobID, process.KindDownload, argv)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("video info unavailable", slog.Any("reason", err))
		return nil, nil
	}

	var result infoResult
	if err := out.Decode(&result); err != nil {
		log.Warn("video info unreadable", slog.Any("reason", err))
		return nil, nil
	}
	if result.VideoID == "" {
		result.VideoID = videoID
	}
	return &domain.VideoInfo{
		VideoID:         result.VideoID,
		Title:           result.Title,
		Channel:         result.ChannelName,
		DurationSeconds: result.DurationSeconds,
		ThumbnailURL:    result.ThumbnailURL,
	}, nil
}

func (e *WorkerExtractor) videoTranscript(ctx context.Context, log *slog.Logger, job *domain.Job, videoID string) (*domain.Transcript, error) {
	clip := clipArgs(job.Input)

	if e.cfg.CaptionsCommand != "" {
		argv, err := worker.SplitCommand(e.cfg.CaptionsCommand, e.cfg.PythonBin, append([]string{videoID}, clip...)...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
		}
		out, err := e.run(ctx, job.ID, process.KindDownload, argv)
		if err == nil {
			var captions transcribeResult
			if decodeErr := out.Decode(&captions); decodeErr == nil && captions.Transcript != "" {
				return &domain.Transcript{Text: captions.Transcript, Language: captionLanguage(captions.Language, job.Input.Language)}, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Info("captions unavailable, downloading audio", slog.Any("reason", err))
	}

	argv, err := worker.SplitCommand(e.cfg.DownloadCommand, e.cfg.PythonBin, append([]string{videoID}, clip...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}
	out, err := e.run(ctx, job.ID, process.KindDownload, argv)
	if err != nil {
		return nil, err
	}

	var download downloadResult
	if err := out.Decode(&download); err != nil || download.FilePath == "" {
		return nil, fmt.Errorf("%w: download worker returned no file path", ErrExternalProcessFailed)
	}
	defer func() {
		if err := os.Remove(download.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove downloaded audio", slog.Any("error", err))
		}
	}()

	return e.transcribe(ctx, job, download.FilePath)
}

func (e *WorkerExtractor) transcribe(ctx context.Context, job *domain.Job, path string) (*domain.Transcript, error) {
	language := job.Input.Language
	if language == "" {
		language = "None"
	}
	argv, err := worker.SplitCommand(e.cfg.TranscribeCommand, e.cfg.PythonBin,
		path, e.cfg.WhisperModel, language, e.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}

	out, err := e.run(ctx, job.ID, process.KindTranscribe, argv)
	if err != nil {
		return nil, err
	}

	var result transcribeResult
	if err := out.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}
	return &domain.Transcript{
		Text:     result.Transcript,
		Language: result.Language,
		Segments: result.Segments,
	}, nil
}

// run spawns one worker, registers it for cancellation, and waits for its result.
func (e *WorkerExtractor) run(ctx context.Context, jobID uuid.UUID, kind process.Kind, argv []string) (worker.Output, error) {
	p, err := e.spawner.Spawn(ctx, worker.Command{Kind: kind, Argv: argv, Dir: e.cfg.WorkDir})
	if err != nil {
		if ctx.Err() != nil {
			return worker.Output{}, ctx.Err()
		}
		return worker.Output{}, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}

	if err := e.registry.Register(ctx, jobID, p, kind); err != nil {
		// Nobody else can reach this process; stop it here.
		_ = p.Kill()
		<-p.Done()
		if errors.Is(err, process.ErrJobCancelled) {
			return worker.Output{}, context.Canceled
		}
		return worker.Output{}, fmt.Errorf("%w: %w", ErrExternalProcessFailed, err)
	}
	defer e.registry.Unregister(jobID, p)

	out, err := p.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return worker.Output{}, ctx.Err()
		}
		return worker.Output{}, fmt.Errorf("%w: %s worker: %w", ErrExternalProcessFailed, kind, err)
	}
	return out, nil
}

func clipArgs(in domain.Input) []string {
	if in.StartSeconds == 0 && in.EndSeconds == 0 {
		return nil
	}
	args := []string{formatSeconds(in.StartSeconds)}
	if in.EndSeconds > 0 {
		args = append(args, formatSeconds(in.EndSeconds))
	}
	return args
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// captionLanguage prefers the caller's hint over the captions worker's "auto".
func captionLanguage(reported, hint string) string {
	if hint != "" {
		return hint
	}
	if reported == "auto" {
		return ""
	}
	return reported
}
