package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/phrazzld/studykit/internal/api/shared"
	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/service"
)

// InputRequest describes the raw input of a new job.
type InputRequest struct {
	Kind         string  `json:"kind"          validate:"required,oneof=upload document video"`
	Reference    string  `json:"reference"     validate:"omitempty,max=2048"`
	Text         string  `json:"text"`
	Language     string  `json:"language"      validate:"omitempty,max=16"`
	StartSeconds float64 `json:"start_seconds" validate:"gte=0"`
	EndSeconds   float64 `json:"end_seconds"   validate:"gte=0"`
}

// StartJobRequest represents the request body for starting a job
type StartJobRequest struct {
	Input          InputRequest `json:"input"           validate:"required"`
	ModelSelection string       `json:"model_selection" validate:"omitempty,oneof=auto gemini openrouter local"`
}

// StartJobResponse is returned once the job has been accepted.
type StartJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StopJobRequest represents the request body for stopping a job
type StopJobRequest struct {
	JobID string `json:"job_id" validate:"required,uuid"`
}

// StopJobResponse reports how many worker processes were signalled.
type StopJobResponse struct {
	JobID     string `json:"job_id"`
	Signalled int    `json:"signalled"`
}

// JobHandler handles job lifecycle HTTP requests
type JobHandler struct {
	jobService service.JobService
	logger     *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService service.JobService, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		jobService: jobService,
		logger:     logger.With("component", "job_handler"),
	}
}

// StartJob handles POST /api/jobs requests
func (h *JobHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		h.respondDecodeError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	job, err := h.jobService.Start(r.Context(), service.StartJobInput{
		Input: domain.Input{
			Kind:         domain.InputKind(req.Input.Kind),
			Reference:    req.Input.Reference,
			Text:         req.Input.Text,
			Language:     req.Input.Language,
			StartSeconds: req.Input.StartSeconds,
			EndSeconds:   req.Input.EndSeconds,
		},
		ModelSelection: domain.ModelSelection(req.ModelSelection),
		OwnerID:        shared.OwnerID(r.Context()),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// 202 Accepted: the pipeline runs in the background
	shared.RespondWithJSON(w, r, http.StatusAccepted, StartJobResponse{
		JobID:  job.ID.String(),
		Status: string(job.Status),
	})
}

// StopJob handles POST /api/jobs/stop requests
func (h *JobHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	var req StopJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		h.respondDecodeError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job_id: invalid UUID format")
		return
	}

	signalled, err := h.jobService.Stop(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StopJobResponse{
		JobID:     jobID.String(),
		Signalled: signalled,
	})
}

func (h *JobHandler) respondDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("failed to decode request body",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	if errors.Is(err, shared.ErrBodyTooLarge) {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}
	shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
}
