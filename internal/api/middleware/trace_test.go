package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/api/shared"
	"github.com/phrazzld/studykit/internal/platform/logger"
)

func TestNewTraceMiddleware(t *testing.T) {
	t.Parallel()
	base, buf := logger.GetTestLogger(t)

	var traceID, requestID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		requestID = logger.RequestID(r.Context())
		logger.FromContext(r.Context()).Info("handling")
		w.WriteHeader(http.StatusNoContent)
	})

	handler := chimw.RequestID(NewTraceMiddleware(base)(next))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	require.NotEmpty(t, traceID)
	require.NotEmpty(t, requestID)

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	var handled map[string]interface{}
	for _, e := range entries {
		if e["msg"] == "handling" {
			handled = e
		}
	}
	require.NotNil(t, handled, "request-scoped logger was not used")
	assert.Equal(t, traceID, handled["trace_id"])
	assert.Equal(t, requestID, handled["request_id"])
}
