package mocks

import (
	"context"
	"sync/atomic"

	"github.com/phrazzld/studykit/internal/generation"
)

// MockProvider implements generation.Provider and generation.LivenessProber
// for testing. Without AliveFn the provider reports itself alive.
type MockProvider struct {
	NameValue string

	// CompleteFn receives the 1-based call number across all calls.
	CompleteFn func(ctx context.Context, prompt string, call int) (string, error)
	AliveFn    func(ctx context.Context) bool

	// Response and Err are returned when CompleteFn is nil.
	Response string
	Err      error

	calls atomic.Int64
}

var (
	_ generation.Provider       = (*MockProvider)(nil)
	_ generation.LivenessProber = (*MockProvider)(nil)
)

// Name implements generation.Provider.
func (m *MockProvider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Complete implements generation.Provider.
func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	call := int(m.calls.Add(1))
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, prompt, call)
	}
	return m.Response, m.Err
}

// Alive implements generation.LivenessProber.
func (m *MockProvider) Alive(ctx context.Context) bool {
	if m.AliveFn != nil {
		return m.AliveFn(ctx)
	}
	return true
}

// Calls returns the number of Complete calls so far.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}
