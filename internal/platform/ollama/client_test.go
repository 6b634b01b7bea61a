package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/generation"
	"github.com/phrazzld/studykit/internal/platform/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	client, err := NewClient(config.LLMConfig{
		OllamaBaseURL:         baseURL,
		OllamaModel:           "llama3.1",
		RequestTimeoutSeconds: 5,
	}, log, WithProbeTimeout(500*time.Millisecond))
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	log, _ := logger.GetTestLogger(t)

	_, err := NewClient(config.LLMConfig{OllamaModel: "m"}, log)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewClient(config.LLMConfig{OllamaBaseURL: "http://localhost:11434"}, log)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewClient(config.LLMConfig{OllamaBaseURL: "http://localhost:11434", OllamaModel: "m"}, nil)
	assert.Error(t, err)
}

func TestAlive(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	assert.True(t, newTestClient(t, server.URL).Alive(context.Background()))
}

func TestAlive_Unreachable(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.False(t, newTestClient(t, url).Alive(context.Background()))
}

func TestAlive_BadStatus(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	assert.False(t, newTestClient(t, server.URL).Alive(context.Background()))
}

func TestComplete(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		_, _ = w.Write([]byte(`{"response":"{\"body\":\"b\"}","done":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	text, err := client.Complete(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, `{"body":"b"}`, text)
	assert.Equal(t, ProviderName, client.Name())
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"busy", http.StatusTooManyRequests, ``, generation.ErrRateLimited},
		{"model missing", http.StatusNotFound, `{"error":"model not found"}`, generation.ErrProviderHardError},
		{"malformed", http.StatusOK, `nope`, generation.ErrInvalidResponse},
		{"empty response", http.StatusOK, `{"response":"","done":true}`, generation.ErrInvalidResponse},
		{"in-band error", http.StatusOK, `{"error":"out of memory"}`, generation.ErrProviderHardError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).Complete(context.Background(), "prompt")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
