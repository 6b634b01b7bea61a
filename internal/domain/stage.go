package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage names one unit of pipeline work producing one artifact type.
type Stage string

// Pipeline stages
const (
	StageExtract    Stage = "extract"
	StageClassify   Stage = "classify"
	StageSummarize  Stage = "summarize"
	StageQuiz       Stage = "quiz"
	StageSlides     Stage = "slides"
	StageFlashcards Stage = "flashcards"
)

// Stages lists every stage in the order the status CLI prints them.
var Stages = []Stage{
	StageExtract,
	StageClassify,
	StageSummarize,
	StageQuiz,
	StageSlides,
	StageFlashcards,
}

// IsValid reports whether s is one of the fixed pipeline stages.
func (s Stage) IsValid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStage converts a stored stage name into a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Band is the slice of the 0..100 progress range owned by one stage.
type Band struct {
	Start int
	End   int
}

// ProgressBands is the single table of stage progress bands. Stages absent
// from the table (classify) do not move progress.
var ProgressBands = map[Stage]Band{
	StageExtract:    {Start: 0, End: 40},
	StageSummarize:  {Start: 40, End: 60},
	StageQuiz:       {Start: 60, End: 75},
	StageSlides:     {Start: 75, End: 90},
	StageFlashcards: {Start: 90, End: 100},
}

// ProgressAfter returns the progress a job reaches once stage completes,
// given its current progress. Progress never decreases.
func ProgressAfter(current int, stage Stage) int {
	band, ok := ProgressBands[stage]
	if !ok || band.End < current {
		return current
	}
	return band.End
}

// StageOutput is the recorded result of one stage.
type StageOutput struct {
	Stage Stage `json:"stage"`
	// Payload holds the JSON-encoded artifact; nil when Empty is true.
	Payload json.RawMessage `json:"payload,omitempty"`
	Empty   bool            `json:"empty"`
	// Degraded marks output produced by the deterministic fallback.
	Degraded  bool      `json:"degraded,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStageOutput encodes artifact as the payload of stage.
func NewStageOutput(stage Stage, artifact any, provider string, degraded bool) (*StageOutput, error) {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s output: %w", stage, err)
	}
	return &StageOutput{
		Stage:     stage,
		Payload:   payload,
		Provider:  provider,
		Degraded:  degraded,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// EmptyStageOutput records that stage produced nothing, with the reason.
func EmptyStageOutput(stage Stage, reason error) *StageOutput {
	out := &StageOutput{
		Stage:     stage,
		Empty:     true,
		UpdatedAt: time.Now().UTC(),
	}
	if reason != nil {
		out.Error = reason.Error()
	}
	return out
}

// Decode unmarshals the payload into v.
func (o *StageOutput) Decode(v any) error {
	if o == nil || o.Empty || len(o.Payload) == 0 {
		return fmt.Errorf("%w: stage output is empty", ErrInvalidArtifact)
	}
	return json.Unmarshal(o.Payload, v)
}
