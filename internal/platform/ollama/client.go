// Package ollama provides a generation.Provider backed by a local Ollama
// server. The provider implements generation.LivenessProber so that a
// machine without a running model server is skipped rather than tried.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/generation"
)

const (
	// ProviderName identifies this provider in logs and stage outputs.
	ProviderName = "local"

	// DefaultProbeTimeout bounds the liveness request.
	DefaultProbeTimeout = 2 * time.Second

	defaultHTTPTimeout = 120 * time.Second
)

// Client talks to an Ollama server.
type Client struct {
	baseURL      string
	model        string
	httpClient   *http.Client
	probeTimeout time.Duration
	logger       *slog.Logger
}

var (
	_ generation.Provider       = (*Client)(nil)
	_ generation.LivenessProber = (*Client)(nil)
)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithProbeTimeout overrides how long Alive waits for the server.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.probeTimeout = timeout
		}
	}
}

// NewClient constructs a local-model provider from LLM configuration.
func NewClient(cfg config.LLMConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	baseURL := strings.TrimSpace(cfg.OllamaBaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ollama base URL cannot be empty", generation.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.OllamaModel) == "" {
		return nil, fmt.Errorf("%w: ollama model cannot be empty", generation.ErrInvalidConfig)
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		baseURL:      baseURL,
		model:        strings.TrimSpace(cfg.OllamaModel),
		httpClient:   &http.Client{Timeout: timeout},
		probeTimeout: DefaultProbeTimeout,
		logger:       logger.With(slog.String("provider", ProviderName)),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Name returns "local".
func (c *Client) Name() string {
	return ProviderName
}

// Alive reports whether the server answers its model listing endpoint.
func (c *Client) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	endpoint, err := url.JoinPath(c.baseURL, "api", "tags")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "Ollama liveness probe failed", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Complete runs a non-streaming JSON-format generation.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: ollama: prompt required", generation.ErrProviderHardError)
	}

	endpoint, err := url.JoinPath(c.baseURL, "api", "generate")
	if err != nil {
		return "", fmt.Errorf("%w: ollama: build url: %w", generation.ErrProviderHardError, err)
	}
	encoded, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Format: "json"})
	if err != nil {
		return "", fmt.Errorf("%w: ollama: encode body: %w", generation.ErrProviderHardError, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: ollama: new request: %w", generation.ErrProviderHardError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ollama: http error: %w", generation.ErrProviderHardError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: ollama: read body: %w", generation.ErrProviderHardError, err)
	}

	var out generateResponse
	decodeErr := json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: ollama: server busy", generation.ErrRateLimited)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", fmt.Errorf("%w: ollama: http %d: %s",
			generation.ErrProviderHardError, resp.StatusCode, generation.Snippet(firstNonEmpty(out.Error, string(body))))
	case decodeErr != nil:
		return "", fmt.Errorf("%w: %w: ollama: decode response: %w",
			generation.ErrProviderHardError, generation.ErrInvalidResponse, decodeErr)
	case out.Error != "":
		return "", fmt.Errorf("%w: ollama: %s", generation.ErrProviderHardError, out.Error)
	case strings.TrimSpace(out.Response) == "":
		return "", fmt.Errorf("%w: %w: ollama: empty response",
			generation.ErrProviderHardError, generation.ErrInvalidResponse)
	}
	return out.Response, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
