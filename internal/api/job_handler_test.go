package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/api/shared"
	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/mocks"
	"github.com/phrazzld/studykit/internal/service"
	"github.com/phrazzld/studykit/internal/store"
)

func doRequest(ctx context.Context, t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestJobHandler_StartJob(t *testing.T) {
	t.Parallel()

	t.Run("accepts a document job", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StartJob,
			`{"input":{"kind":"document","text":"Photosynthesis converts light."},"model_selection":"gemini"}`)

		require.Equal(t, http.StatusAccepted, rr.Code)
		var resp StartJobResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		_, err := uuid.Parse(resp.JobID)
		assert.NoError(t, err)
		assert.Equal(t, string(domain.JobStatusCreated), resp.Status)

		starts := svc.Starts()
		require.Len(t, starts, 1)
		assert.Equal(t, domain.InputKindDocument, starts[0].Input.Kind)
		assert.Equal(t, "Photosynthesis converts light.", starts[0].Input.Text)
		assert.Equal(t, domain.ModelSelection("gemini"), starts[0].ModelSelection)
		assert.Equal(t, uuid.Nil, starts[0].OwnerID)
	})

	t.Run("passes the authenticated owner", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)
		ownerID := uuid.New()

		rr := doRequest(shared.WithOwnerID(context.Background(), ownerID), t, h.StartJob,
			`{"input":{"kind":"upload","reference":"uploads/lecture.pdf"}}`)

		require.Equal(t, http.StatusAccepted, rr.Code)
		starts := svc.Starts()
		require.Len(t, starts, 1)
		assert.Equal(t, ownerID, starts[0].OwnerID)
		assert.Equal(t, domain.ModelSelection(""), starts[0].ModelSelection)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StartJob, `{"input":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid request format", decodeError(t, rr).Error)
		assert.Empty(t, svc.Starts())
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		h := NewJobHandler(&mocks.MockJobService{}, nil)

		rr := doRequest(context.Background(), t, h.StartJob, `{"input":{"kind":"document","text":"x"},"priority":1}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid request format", decodeError(t, rr).Error)
	})

	t.Run("unknown model selection", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StartJob, `{"input":{"kind":"document","text":"x"},"model_selection":"gpt"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid ModelSelection: invalid value", decodeError(t, rr).Error)
		assert.Empty(t, svc.Starts())
	})

	t.Run("input rejected by the service", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{
			StartFn: func(_ context.Context, _ service.StartJobInput) (*domain.Job, error) {
				return nil, service.NewJobServiceError("start_job", "invalid job input",
					fmt.Errorf("%w: document text cannot be empty", domain.ErrInputInvalid))
			},
		}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StartJob, `{"input":{"kind":"document"}}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid job input", decodeError(t, rr).Error)
	})

	t.Run("service shutting down", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{
			StartFn: func(_ context.Context, _ service.StartJobInput) (*domain.Job, error) {
				return nil, service.ErrShuttingDown
			},
		}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StartJob, `{"input":{"kind":"document","text":"x"}}`)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "Service is shutting down", decodeError(t, rr).Error)
	})

	t.Run("body too large", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)
		body := `{"input":{"kind":"document","text":"` + strings.Repeat("a", shared.MaxBodyBytes) + `"}}`

		rr := doRequest(context.Background(), t, h.StartJob, body)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, "Request body too large", decodeError(t, rr).Error)
		assert.Empty(t, svc.Starts())
	})
}

func TestJobHandler_StopJob(t *testing.T) {
	t.Parallel()

	t.Run("stops a running job", func(t *testing.T) {
		t.Parallel()
		jobID := uuid.New()
		svc := &mocks.MockJobService{
			StopFn: func(_ context.Context, _ uuid.UUID) (int, error) { return 2, nil },
		}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StopJob, fmt.Sprintf(`{"job_id":%q}`, jobID))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp StopJobResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, jobID.String(), resp.JobID)
		assert.Equal(t, 2, resp.Signalled)
		assert.Equal(t, []uuid.UUID{jobID}, svc.Stops())
	})

	t.Run("terminal job reports zero", func(t *testing.T) {
		t.Parallel()
		h := NewJobHandler(&mocks.MockJobService{}, nil)

		rr := doRequest(context.Background(), t, h.StopJob, fmt.Sprintf(`{"job_id":%q}`, uuid.New()))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp StopJobResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Zero(t, resp.Signalled)
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{
			StopFn: func(_ context.Context, _ uuid.UUID) (int, error) {
				return 0, service.NewJobServiceError("stop_job", "failed to load job", store.ErrJobNotFound)
			},
		}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StopJob, fmt.Sprintf(`{"job_id":%q}`, uuid.New()))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "Job not found", decodeError(t, rr).Error)
	})

	t.Run("status write failed", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{
			StopFn: func(_ context.Context, _ uuid.UUID) (int, error) {
				return 1, service.NewJobServiceError("stop_job", "failed to record stopped status", store.ErrStoreWriteFailed)
			},
		}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StopJob, fmt.Sprintf(`{"job_id":%q}`, uuid.New()))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "An unexpected error occurred", decodeError(t, rr).Error)
	})

	t.Run("invalid job id", func(t *testing.T) {
		t.Parallel()
		svc := &mocks.MockJobService{}
		h := NewJobHandler(svc, nil)

		rr := doRequest(context.Background(), t, h.StopJob, `{"job_id":"not-a-uuid"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid JobID: invalid UUID format", decodeError(t, rr).Error)
		assert.Empty(t, svc.Stops())
	})

	t.Run("missing job id", func(t *testing.T) {
		t.Parallel()
		h := NewJobHandler(&mocks.MockJobService{}, nil)

		rr := doRequest(context.Background(), t, h.StopJob, `{}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid JobID: required field", decodeError(t, rr).Error)
	})
}
