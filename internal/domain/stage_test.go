package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBands_CoverRange(t *testing.T) {
	t.Parallel()
	order := []Stage{StageExtract, StageSummarize, StageQuiz, StageSlides, StageFlashcards}

	prev := 0
	for _, stage := range order {
		band, ok := ProgressBands[stage]
		require.True(t, ok, stage)
		assert.Equal(t, prev, band.Start, "band for %s must start where the previous ended", stage)
		assert.Greater(t, band.End, band.Start)
		prev = band.End
	}
	assert.Equal(t, 100, prev)

	_, ok := ProgressBands[StageClassify]
	assert.False(t, ok, "classify has no progress band")
}

func TestProgressAfter_NeverRegresses(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 40, ProgressAfter(0, StageExtract))
	assert.Equal(t, 75, ProgressAfter(40, StageQuiz))
	// flashcards finishing before quiz pushes progress to 100; quiz then must not pull it down
	assert.Equal(t, 100, ProgressAfter(100, StageQuiz))
	assert.Equal(t, 60, ProgressAfter(60, StageClassify))
}

func TestStageOutput(t *testing.T) {
	t.Parallel()
	out, err := NewStageOutput(StageSummarize, Summary{Body: "Cells divide."}, "gemini", false)
	require.NoError(t, err)
	assert.False(t, out.Empty)
	assert.Equal(t, "gemini", out.Provider)

	var summary Summary
	require.NoError(t, out.Decode(&summary))
	assert.Equal(t, "Cells divide.", summary.Body)

	empty := EmptyStageOutput(StageSlides, errors.New("summary unavailable"))
	assert.True(t, empty.Empty)
	assert.Equal(t, "summary unavailable", empty.Error)
	assert.ErrorIs(t, empty.Decode(&summary), ErrInvalidArtifact)

	_, err = ParseStage("render")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestArtifactValidation(t *testing.T) {
	t.Parallel()

	assert.True(t, Summary{Introduction: "Today we cover mitosis."}.IsEmpty())
	assert.ErrorIs(t, Summary{Introduction: "intro only"}.Validate(), ErrInvalidArtifact)

	assert.NoError(t, Quiz{{Question: "2+2?", Options: []string{"3", "4"}, AnswerIndex: 1}}.Validate())
	assert.ErrorIs(t, Quiz{{Question: "2+2?", Options: []string{"4"}, AnswerIndex: 0}}.Validate(), ErrInvalidArtifact)
	assert.ErrorIs(t, Quiz{{Question: "2+2?", Options: []string{"3", "4"}, AnswerIndex: 2}}.Validate(), ErrInvalidArtifact)

	assert.NoError(t, SlideDeck{{Title: "Intro", Bullets: []string{"a"}}}.Validate())
	assert.ErrorIs(t, SlideDeck{}.Validate(), ErrInvalidArtifact)

	assert.NoError(t, FlashcardSet{{Front: "Mitosis", Back: "Cell division"}}.Validate())
	assert.ErrorIs(t, FlashcardSet{{Front: "Mitosis"}}.Validate(), ErrInvalidArtifact)

	assert.ErrorIs(t, Classification{Category: "biology", Confidence: 1.5}.Validate(), ErrInvalidArtifact)
	assert.ErrorIs(t, Transcript{}.Validate(), ErrInvalidArtifact)
}
