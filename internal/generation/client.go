package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/phrazzld/studykit/internal/platform/logger"
)

// Default retry settings
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// RetryPolicy controls how a single provider is retried on rate limits.
// MaxRetries counts retries after the first attempt; delays run BaseDelay,
// 2*BaseDelay, 4*BaseDelay and so on.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy returns three retries starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), retry.NewExponential(base))
}

// FallbackClient executes generation requests against an ordered provider
// list. It holds no per-call state and is safe for concurrent use.
type FallbackClient struct {
	policy RetryPolicy
	logger *slog.Logger
}

// NewFallbackClient creates a FallbackClient.
func NewFallbackClient(policy RetryPolicy, log *slog.Logger) *FallbackClient {
	if log == nil {
		log = slog.Default()
	}
	return &FallbackClient{
		policy: policy,
		logger: log.With(slog.String("component", "generation_client")),
	}
}

// Generate tries providers strictly in order and returns the first valid
// result. Providers that report themselves unreachable are skipped. When all
// providers are exhausted, fallback (if non-nil) runs on req.Input and its
// result is returned with Degraded set; otherwise the error wraps
// ErrAllProvidersExhausted.
func (c *FallbackClient) Generate(
	ctx context.Context,
	req Request,
	providers []Provider,
	fallback Fallback,
) (*Result, error) {
	log := logger.FromContextOrDefault(ctx, c.logger).With(slog.String("stage", string(req.Stage)))

	var (
		attempts []Attempt
		lastErr  error
	)
	for _, p := range providers {
		if prober, ok := p.(LivenessProber); ok && !prober.Alive(ctx) {
			log.Info("skipping unreachable provider", slog.String("provider", p.Name()))
			attempts = append(attempts, Attempt{Provider: p.Name(), Outcome: OutcomeSkipped})
			continue
		}

		text, tried, err := c.tryProvider(ctx, req, p)
		attempts = append(attempts, tried...)
		if err == nil {
			log.Info("generation succeeded",
				slog.String("provider", p.Name()),
				slog.Int("attempts", len(tried)))
			return &Result{Text: text, Provider: p.Name(), Attempts: attempts}, nil
		}

		lastErr = err
		log.Warn("provider exhausted, falling through",
			slog.String("provider", p.Name()),
			slog.Int("attempts", len(tried)),
			slog.Any("error", err))
	}

	if fallback != nil {
		text, err := fallback(ctx, req.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: deterministic fallback failed: %w", ErrAllProvidersExhausted, err)
		}
		log.Warn("all providers exhausted, using deterministic fallback",
			slog.Int("providers", len(providers)))
		return &Result{Text: text, Provider: FallbackProviderName, Degraded: true, Attempts: attempts}, nil
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w: no provider available for %s", ErrAllProvidersExhausted, req.Stage)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrAllProvidersExhausted, req.Stage, lastErr)
}

// tryProvider runs one provider under the retry policy. Only rate limits are
// retried; hard errors and validation failures return immediately.
func (c *FallbackClient) tryProvider(ctx context.Context, req Request, p Provider) (string, []Attempt, error) {
	var (
		attempts []Attempt
		text     string
	)

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		start := time.Now()
		out, err := p.Complete(ctx, req.Prompt)
		attempt := Attempt{Provider: p.Name(), Number: len(attempts) + 1, Latency: time.Since(start)}

		if err == nil && req.Validate != nil {
			if verr := req.Validate(out); verr != nil {
				err = fmt.Errorf("%w: %w: %w", ErrProviderHardError, ErrInvalidResponse, verr)
			}
		}

		switch {
		case err == nil:
			attempt.Outcome = OutcomeSuccess
			attempts = append(attempts, attempt)
			text = out
			return nil
		case errors.Is(err, ErrRateLimited):
			attempt.Outcome = OutcomeRateLimited
			attempt.Err = err
			attempts = append(attempts, attempt)
			return retry.RetryableError(err)
		default:
			if !errors.Is(err, ErrProviderHardError) {
				err = fmt.Errorf("%w: %s: %w", ErrProviderHardError, p.Name(), err)
			}
			attempt.Outcome = OutcomeHardError
			attempt.Err = err
			attempts = append(attempts, attempt)
			return err
		}
	})
	return text, attempts, err
}
