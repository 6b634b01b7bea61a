package domain

import (
	"fmt"
	"strings"
)

// Segment is one timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VideoInfo describes the source video of a video job.
type VideoInfo struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	Channel         string `json:"channel,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
}

// Transcript is the output of the extract stage.
type Transcript struct {
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	WordCount int       `json:"word_count"`
	Segments  []Segment `json:"segments,omitempty"`
	// Video is set for video inputs when the info worker succeeded.
	Video *VideoInfo `json:"video,omitempty"`
}

// Validate checks the transcript carries text.
func (t Transcript) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: transcript text is empty", ErrInvalidArtifact)
	}
	return nil
}

// Classification is the output of the classify stage.
type Classification struct {
	Category   string  `json:"category"`
	Subject    string  `json:"subject,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Validate checks the classification has a category and a sane confidence.
func (c Classification) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("%w: classification category is empty", ErrInvalidArtifact)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: classification confidence %.2f out of range", ErrInvalidArtifact, c.Confidence)
	}
	return nil
}

// Summary is the output of the summarize stage.
type Summary struct {
	Introduction string   `json:"introduction,omitempty"`
	Body         string   `json:"body"`
	KeyPoints    []string `json:"key_points,omitempty"`
}

// IsEmpty reports whether the summary has no main body. An introduction on
// its own does not count as a summary.
func (s Summary) IsEmpty() bool {
	return strings.TrimSpace(s.Body) == ""
}

// Validate checks the summary has a body.
func (s Summary) Validate() error {
	if s.IsEmpty() {
		return fmt.Errorf("%w: summary body is empty", ErrInvalidArtifact)
	}
	return nil
}

// QuizQuestion is one multiple-choice question.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz is the output of the quiz stage.
type Quiz []QuizQuestion

// Validate checks every question has at least two options and a valid answer.
func (q Quiz) Validate() error {
	if len(q) == 0 {
		return fmt.Errorf("%w: quiz has no questions", ErrInvalidArtifact)
	}
	for i, question := range q {
		if strings.TrimSpace(question.Question) == "" {
			return fmt.Errorf("%w: quiz question %d is blank", ErrInvalidArtifact, i)
		}
		if len(question.Options) < 2 {
			return fmt.Errorf("%w: quiz question %d has fewer than two options", ErrInvalidArtifact, i)
		}
		if question.AnswerIndex < 0 || question.AnswerIndex >= len(question.Options) {
			return fmt.Errorf("%w: quiz question %d answer index %d out of range", ErrInvalidArtifact, i, question.AnswerIndex)
		}
	}
	return nil
}

// Slide is one slide of a deck.
type Slide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
	Notes   string   `json:"notes,omitempty"`
}

// SlideDeck is the output of the slides stage.
type SlideDeck []Slide

// Validate checks the deck has titled slides.
func (d SlideDeck) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("%w: slide deck is empty", ErrInvalidArtifact)
	}
	for i, slide := range d {
		if strings.TrimSpace(slide.Title) == "" {
			return fmt.Errorf("%w: slide %d has no title", ErrInvalidArtifact, i)
		}
	}
	return nil
}

// Flashcard is one front/back study card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Hint  string `json:"hint,omitempty"`
}

// FlashcardSet is the output of the flashcards stage.
type FlashcardSet []Flashcard

// Validate checks every card has both sides.
func (f FlashcardSet) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("%w: flashcard set is empty", ErrInvalidArtifact)
	}
	for i, card := range f {
		if strings.TrimSpace(card.Front) == "" || strings.TrimSpace(card.Back) == "" {
			return fmt.Errorf("%w: flashcard %d is missing a side", ErrInvalidArtifact, i)
		}
	}
	return nil
}
