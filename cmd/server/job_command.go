package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/phrazzld/studykit/internal/domain"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs in the job store",
	}
	cmd.AddCommand(newJobStatusCommand(ctx))
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status, progress and stage outputs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg.Database, ctx.logger)
			if err != nil {
				return fmt.Errorf("failed to open job store: %w", err)
			}
			defer func() { _ = b.Close() }()

			job, err := b.jobs.GetByID(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("failed to load job %s: %w", jobID, err)
			}

			fmt.Fprint(cmd.OutOrStdout(), renderJobStatus(job))
			return nil
		},
	}
}

// renderJobStatus formats a job summary followed by one row per stage.
func renderJobStatus(job *domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:      %s\n", job.ID)
	fmt.Fprintf(&b, "Status:   %s\n", job.Status)
	fmt.Fprintf(&b, "Progress: %d%%\n", job.Progress)
	fmt.Fprintf(&b, "Input:    %s\n", job.Input.Kind)
	fmt.Fprintf(&b, "Models:   %s\n", job.ModelSelection)
	if video := videoInfo(job); video != nil {
		fmt.Fprintf(&b, "Video:    %s (%s, %s)\n", video.Title, video.Channel, formatDuration(video.DurationSeconds))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:    %s\n", job.ErrorMessage)
	}
	b.WriteString("\n")

	rows := make([][]string, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		band := "-"
		if r, ok := domain.ProgressBands[stage]; ok {
			band = fmt.Sprintf("%d-%d", r.Start, r.End)
		}
		state, provider := stageState(job.StageOutputs[stage])
		rows = append(rows, []string{string(stage), band, state, provider})
	}

	b.WriteString(renderTable(
		[]string{"Stage", "Band", "Output", "Provider"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}

func stageState(output *domain.StageOutput) (string, string) {
	if output == nil {
		return "pending", "-"
	}
	provider := output.Provider
	if provider == "" {
		provider = "-"
	}
	switch {
	case output.Empty:
		return "empty", provider
	case output.Degraded:
		return "degraded", provider
	default:
		return "ok", provider
	}
}

// videoInfo returns the metadata recorded by the extract stage, if any.
func videoInfo(job *domain.Job) *domain.VideoInfo {
	output := job.Output(domain.StageExtract)
	if output == nil || output.Empty {
		return nil
	}
	var transcript domain.Transcript
	if err := output.Decode(&transcript); err != nil {
		return nil
	}
	return transcript.Video
}

// formatDuration renders seconds as M:SS or H:MM:SS.
func formatDuration(seconds int) string {
	h, m, sec := seconds/3600, seconds%3600/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
