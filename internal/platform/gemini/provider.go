package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/studykit/internal/config"
	"github.com/phrazzld/studykit/internal/generation"
)

// ProviderName identifies this provider in logs and stage outputs.
const ProviderName = "gemini"

// contentGenerator is the subset of *genai.Models used by Provider.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Provider implements generation.Provider using the Gemini API.
type Provider struct {
	// logger is used for structured logging
	logger *slog.Logger

	// models issues GenerateContent calls
	models contentGenerator

	// model is the name of the Gemini model to use
	model string

	// timeout bounds a single request
	timeout time.Duration
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Gemini provider from LLM configuration.
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.GeminiModel == "" {
		return nil, fmt.Errorf("%w: gemini model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newProvider(client.Models, cfg.GeminiModel, cfg.RequestTimeout(), logger), nil
}

func newProvider(models contentGenerator, model string, timeout time.Duration, logger *slog.Logger) *Provider {
	return &Provider{
		logger:  logger.With(slog.String("provider", ProviderName)),
		models:  models,
		model:   model,
		timeout: timeout,
	}
}

// Name returns "gemini".
func (p *Provider) Name() string {
	return ProviderName
}

// Complete sends prompt to Gemini, requesting a JSON response, and returns
// the concatenated text of the first candidate.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: %w", generation.ErrProviderHardError, ErrEmptyPrompt)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.logger.DebugContext(ctx, "Making Gemini API call",
		"model", p.model,
		"prompt_length", len(prompt))

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", classifyError(err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", generation.ErrProviderHardError, err)
	}

	p.logger.DebugContext(ctx, "Gemini API call successful",
		"response_length", len(text))
	return text, nil
}

// responseText extracts the first candidate's text, rejecting blocked or
// empty responses.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	case len(resp.Candidates) == 0 || resp.Candidates[0] == nil:
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	case resp.Candidates[0].Content == nil:
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}
	return b.String(), nil
}

// classifyError maps a genai error onto the generation taxonomy.
func classifyError(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return fmt.Errorf("%w: gemini: %w", generation.ErrProviderHardError, err)
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		return fmt.Errorf("%w: gemini: %w", generation.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: gemini: %w", generation.ErrProviderHardError, err)
}
