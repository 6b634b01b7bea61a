package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/generation"
)

// MockGenerator answers generation requests per stage. It has the Generate
// method of generation.FallbackClient, so it can stand in for the client in
// the pipeline controller.
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior. When it
	// fails and a fallback is supplied, the fallback result is returned
	// flagged as degraded, the way the real client does.
	GenerateFn func(ctx context.Context, req generation.Request) (*generation.Result, error)

	// Responses holds the completion text returned for each stage when
	// GenerateFn is nil.
	Responses map[domain.Stage]string
	// Provider is reported as the producing provider. Defaults to "mock".
	Provider string

	// Call tracking for verification
	GenerateCalls struct {
		// mu protects the call tracking state for concurrent stages
		mu sync.Mutex

		// Count tracks how many times Generate was called
		Count int

		// Stages contains the stage of every request, in call order
		Stages []domain.Stage

		// Prompts contains the prompt sent for each stage
		Prompts map[domain.Stage]string
	}
}

// Generate runs one request. Completions from Responses are checked with
// req.Validate like a provider's would be.
func (m *MockGenerator) Generate(
	ctx context.Context,
	req generation.Request,
	_ []generation.Provider,
	fallback generation.Fallback,
) (*generation.Result, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Stages = append(m.GenerateCalls.Stages, req.Stage)
	if m.GenerateCalls.Prompts == nil {
		m.GenerateCalls.Prompts = make(map[domain.Stage]string)
	}
	m.GenerateCalls.Prompts[req.Stage] = req.Prompt
	m.GenerateCalls.mu.Unlock()

	result, err := m.generate(ctx, req)
	if err == nil {
		return result, nil
	}
	if fallback == nil {
		return nil, err
	}
	text, fbErr := fallback(ctx, req.Input)
	if fbErr != nil {
		return nil, fbErr
	}
	return &generation.Result{Text: text, Provider: generation.FallbackProviderName, Degraded: true}, nil
}

func (m *MockGenerator) generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	text, ok := m.Responses[req.Stage]
	if !ok {
		return nil, generation.ErrAllProvidersExhausted
	}
	if req.Validate != nil {
		if err := req.Validate(text); err != nil {
			return nil, generation.ErrAllProvidersExhausted
		}
	}
	provider := m.Provider
	if provider == "" {
		provider = "mock"
	}
	return &generation.Result{Text: text, Provider: provider}, nil
}

// Calls returns the number of Generate calls so far.
func (m *MockGenerator) Calls() int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Count
}

// Prompt returns the last prompt sent for stage.
func (m *MockGenerator) Prompt(stage domain.Stage) string {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Prompts[stage]
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()

	m.GenerateCalls.Count = 0
	m.GenerateCalls.Stages = nil
	m.GenerateCalls.Prompts = nil
}

// StudyResponses are valid completions for every generation stage.
func StudyResponses() map[domain.Stage]string {
	return map[domain.Stage]string{
		domain.StageClassify:   `{"category":"science","subject":"Biology","confidence":0.9}`,
		domain.StageSummarize:  `{"introduction":"An overview.","body":"Cells divide to grow.","key_points":["mitosis"]}`,
		domain.StageQuiz:       `[{"question":"How do cells divide?","options":["Mitosis","Osmosis"],"answer_index":0}]`,
		domain.StageFlashcards: `[{"front":"Mitosis","back":"Cell division"}]`,
		domain.StageSlides:     `[{"title":"Cell division","bullets":["Mitosis"]}]`,
	}
}

// NewMockGeneratorWithResponses creates a MockGenerator that answers every
// stage with StudyResponses.
func NewMockGeneratorWithResponses() *MockGenerator {
	return &MockGenerator{Responses: StudyResponses()}
}

// MockGeneratorThatFails creates a MockGenerator on which every provider is exhausted.
func MockGeneratorThatFails() *MockGenerator {
	return &MockGenerator{Responses: map[domain.Stage]string{}}
}
