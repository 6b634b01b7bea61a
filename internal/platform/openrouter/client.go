// Package openrouter provides a generation.Provider backed by the OpenRouter
// chat completion API.
//
// HTTP 429 responses are reported as generation.ErrRateLimited, carrying the
// server's Retry-After hint when present. All other failures, including 5xx
// responses and empty completions, are hard errors; retry policy lives in the
// generation fallback client.
package openrouter

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
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/generation"
)

const (
	// ProviderName identifies this provider in logs and stage outputs.
	ProviderName = "openrouter"

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
	completionsPath    = "chat/completions"
	appTitle           = "studykit"
)

// Client calls the OpenRouter chat completion endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ generation.Provider = (*Client)(nil)

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

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient constructs an OpenRouter provider from LLM configuration.
func NewClient(cfg config.LLMConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		return nil, fmt.Errorf("%w: openrouter API key cannot be empty", generation.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.OpenRouterModel) == "" {
		return nil, fmt.Errorf("%w: openrouter model cannot be empty", generation.ErrInvalidConfig)
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:    DefaultBaseURL,
		model:      strings.TrimSpace(cfg.OpenRouterModel),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("provider", ProviderName)),
	}
	WithBaseURL(cfg.OpenRouterBaseURL)(client)
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Name returns "openrouter".
func (c *Client) Name() string {
	return ProviderName
}

// StatusError is a non-2xx response from OpenRouter.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter request: http %d: %s", e.StatusCode, generation.Snippet(e.Body))
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Complete issues a JSON-mode chat completion and returns the first
// non-empty choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: openrouter: prompt required", generation.ErrProviderHardError)
	}

	completion, err := c.send(ctx, chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": jsonResponseType},
	})
	if err != nil {
		return "", classifyError(err)
	}

	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}

	var finishReason, refusal string
	if len(completion.Choices) > 0 {
		finishReason = completion.Choices[0].FinishReason
		refusal = completion.Choices[0].Message.Refusal
	}
	return "", fmt.Errorf("%w: %w: openrouter: empty content (finish_reason=%q, refusal=%q)",
		generation.ErrProviderHardError, generation.ErrInvalidResponse, finishReason, refusal)
}

func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse

	endpoint, err := url.JoinPath(c.baseURL, completionsPath)
	if err != nil {
		return completion, fmt.Errorf("openrouter request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("openrouter request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("openrouter request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", appTitle)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("openrouter request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("openrouter request: read body: %w", err)
	}

	c.logger.DebugContext(ctx, "OpenRouter API call finished",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("%w: openrouter: decode response: %w", generation.ErrInvalidResponse, err)
	}
	if completion.Error != nil {
		if completion.Error.Code == http.StatusTooManyRequests {
			return completion, &StatusError{StatusCode: completion.Error.Code, Body: completion.Error.Message}
		}
		return completion, fmt.Errorf("openrouter request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, nil
}

func classifyError(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", generation.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", generation.ErrProviderHardError, err)
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
