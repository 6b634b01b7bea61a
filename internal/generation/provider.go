package generation

import (
	"context"
	"time"

	"github.com/phrazzld/studykit/internal/domain"
)

// Provider is an external generation service or local model endpoint.
type Provider interface {
	// Name identifies the provider in logs and stage outputs.
	Name() string
	// Complete sends prompt and returns the raw completion text. A rate limit
	// must be reported as an error wrapping ErrRateLimited.
	Complete(ctx context.Context, prompt string) (string, error)
}

// LivenessProber is implemented by providers that can cheaply report whether
// they are reachable before the first real call.
type LivenessProber interface {
	Alive(ctx context.Context) bool
}

// Request is one generation call.
type Request struct {
	// Stage is used for logging only.
	Stage domain.Stage
	// Prompt is sent to every provider verbatim.
	Prompt string
	// Input is the original source text handed to the deterministic fallback.
	Input string
	// Validate checks a completion structurally. A failing completion is
	// treated as a hard error for that provider.
	Validate func(text string) error
}

// Fallback produces a non-AI result from the request input.
type Fallback func(ctx context.Context, input string) (string, error)

// Outcome classifies one provider attempt.
type Outcome string

// Attempt outcomes
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeHardError   Outcome = "hard_error"
	OutcomeSkipped     Outcome = "skipped"
)

// Attempt records one try of one provider. Attempts are returned for logging
// and are never persisted.
type Attempt struct {
	Provider string
	Number   int
	Outcome  Outcome
	Latency  time.Duration
	Err      error
}

// Result is the outcome of a generation call.
type Result struct {
	Text string
	// Provider is the name of the provider that produced Text, or
	// FallbackProviderName when Degraded.
	Provider string
	// Degraded marks output produced by the deterministic fallback.
	Degraded bool
	Attempts []Attempt
}

// FallbackProviderName is reported as the provider of degraded results.
const FallbackProviderName = "deterministic"

// PriorityOrder returns the providers to try for a job: the requested family
// first, then the remaining families in defaultOrder. Families without a
// configured provider are omitted. Auto uses defaultOrder unchanged.
func PriorityOrder(
	requested domain.ModelSelection,
	defaultOrder []domain.ModelSelection,
	providers map[domain.ModelSelection]Provider,
) []Provider {
	order := make([]domain.ModelSelection, 0, len(defaultOrder)+1)
	if requested != "" && requested != domain.ModelSelectionAuto {
		order = append(order, requested)
	}
	order = append(order, defaultOrder...)

	seen := make(map[domain.ModelSelection]bool, len(order))
	out := make([]Provider, 0, len(order))
	for _, family := range order {
		if seen[family] {
			continue
		}
		seen[family] = true
		if p, ok := providers[family]; ok && p != nil {
			out = append(out, p)
		}
	}
	return out
}
