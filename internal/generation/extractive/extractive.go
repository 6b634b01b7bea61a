// Package extractive builds study artifacts from source text without a
// language model. Results are assembled from sentences and frequent terms of
// the input and are marked degraded by the caller.
package extractive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/generation"
)

// ErrInsufficientText is returned when the input has no usable sentences or terms.
var ErrInsufficientText = errors.New("input too short for extractive generation")

// Limits on generated artifacts
const (
	MaxSummarySentences = 5
	MaxKeyPoints        = 3
	MaxQuestions        = 5
	MaxFlashcards       = 8
	SentencesPerSlide   = 3
	MaxSlides           = 6
	minTermLength       = 4
)

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "because": true,
	"been": true, "before": true, "being": true, "between": true, "both": true,
	"could": true, "does": true, "doing": true, "down": true, "during": true,
	"each": true, "even": true, "every": true, "from": true, "further": true,
	"have": true, "having": true, "here": true, "into": true, "just": true,
	"like": true, "many": true, "more": true, "most": true, "much": true,
	"must": true, "only": true, "other": true, "over": true, "really": true,
	"same": true, "should": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "thing": true, "things": true, "this": true,
	"those": true, "through": true, "very": true, "want": true, "well": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "will": true, "with": true, "would": true, "your": true,
	"going": true, "gonna": true, "yeah": true, "okay": true, "know": true,
}

// Fallback returns the deterministic generator for stage.
func Fallback(stage domain.Stage) (generation.Fallback, bool) {
	var build func(string) (any, error)
	switch stage {
	case domain.StageClassify:
		build = func(text string) (any, error) { return Classify(text) }
	case domain.StageSummarize:
		build = func(text string) (any, error) { return Summarize(text) }
	case domain.StageQuiz:
		build = func(text string) (any, error) { return BuildQuiz(text) }
	case domain.StageSlides:
		build = func(text string) (any, error) { return BuildSlides(text) }
	case domain.StageFlashcards:
		build = func(text string) (any, error) { return BuildFlashcards(text) }
	default:
		return nil, false
	}

	return func(_ context.Context, input string) (string, error) {
		artifact, err := build(input)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(artifact)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s artifact: %w", stage, err)
		}
		return string(out), nil
	}, true
}

// document is input text split into sentences and ranked terms.
type document struct {
	sentences []string
	terms     []string
	freq      map[string]int
}

func analyze(text string) document {
	text = norm.NFC.String(text)
	doc := document{freq: make(map[string]int)}
	doc.sentences = splitSentences(text)

	for _, sentence := range doc.sentences {
		for _, word := range words(sentence) {
			if isTerm(word) {
				doc.freq[word]++
			}
		}
	}
	for term := range doc.freq {
		doc.terms = append(doc.terms, term)
	}
	sort.Slice(doc.terms, func(i, j int) bool {
		a, b := doc.terms[i], doc.terms[j]
		if doc.freq[a] != doc.freq[b] {
			return doc.freq[a] > doc.freq[b]
		}
		return a < b
	})
	return doc
}

func splitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		s := strings.Join(strings.Fields(current.String()), " ")
		if len(splitWords(s)) >= 3 {
			out = append(out, s)
		}
		current.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func words(s string) []string {
	raw := splitWords(s)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		out = append(out, strings.ToLower(strings.Trim(w, "'")))
	}
	return out
}

func isTerm(word string) bool {
	if len([]rune(word)) < minTermLength || stopwords[word] {
		return false
	}
	for _, r := range word {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// score sums term frequencies in a sentence, normalised by its length.
func (d document) score(sentence string) float64 {
	ws := words(sentence)
	if len(ws) == 0 {
		return 0
	}
	total := 0
	for _, w := range ws {
		total += d.freq[w]
	}
	return float64(total) / float64(len(ws))
}

// ranked returns up to n sentence indexes, best first.
func (d document) ranked(n int) []int {
	idx := make([]int, len(d.sentences))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return d.score(d.sentences[idx[i]]) > d.score(d.sentences[idx[j]])
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

// keyTerm returns the highest-ranked term occurring in sentence.
func (d document) keyTerm(sentence string) (string, bool) {
	present := make(map[string]bool)
	for _, w := range words(sentence) {
		present[w] = true
	}
	for _, term := range d.terms {
		if present[term] {
			return term, true
		}
	}
	return "", false
}

func title(s string) string {
	return cases.Title(language.Und).String(s)
}

// Summarize picks the highest scoring sentences and keeps them in source order.
func Summarize(text string) (domain.Summary, error) {
	doc := analyze(text)
	if len(doc.sentences) == 0 {
		return domain.Summary{}, ErrInsufficientText
	}

	picked := doc.ranked(MaxSummarySentences)
	inOrder := append([]int(nil), picked...)
	sort.Ints(inOrder)

	body := make([]string, 0, len(inOrder))
	for _, i := range inOrder {
		body = append(body, doc.sentences[i])
	}

	keyPoints := make([]string, 0, MaxKeyPoints)
	for _, i := range picked {
		if len(keyPoints) == MaxKeyPoints {
			break
		}
		keyPoints = append(keyPoints, doc.sentences[i])
	}

	return domain.Summary{
		Introduction: doc.sentences[0],
		Body:         strings.Join(body, " "),
		KeyPoints:    keyPoints,
	}, nil
}

// cloze blanks the key term of a sentence.
func cloze(sentence, term string) string {
	var b strings.Builder
	for i, w := range strings.Fields(sentence) {
		if i > 0 {
			b.WriteByte(' ')
		}
		core := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if strings.EqualFold(core, term) {
			b.WriteString(strings.Replace(w, core, "_____", 1))
			continue
		}
		b.WriteString(w)
	}
	return b.String()
}

// BuildQuiz turns the best sentences into fill-in-the-blank questions whose
// distractors are other frequent terms.
func BuildQuiz(text string) (domain.Quiz, error) {
	doc := analyze(text)
	if len(doc.terms) < 2 {
		return nil, ErrInsufficientText
	}

	var quiz domain.Quiz
	for _, i := range doc.ranked(len(doc.sentences)) {
		if len(quiz) == MaxQuestions {
			break
		}
		sentence := doc.sentences[i]
		answer, ok := doc.keyTerm(sentence)
		if !ok {
			continue
		}

		options := []string{answer}
		for _, term := range doc.terms {
			if len(options) == 4 {
				break
			}
			if term != answer {
				options = append(options, term)
			}
		}

		// rotate so the answer is not always first
		shift := len(quiz) % len(options)
		rotated := make([]string, 0, len(options))
		rotated = append(rotated, options[shift:]...)
		rotated = append(rotated, options[:shift]...)
		answerIndex := (len(options) - shift) % len(options)

		quiz = append(quiz, domain.QuizQuestion{
			Question:    "Fill in the blank: " + cloze(sentence, answer),
			Options:     rotated,
			AnswerIndex: answerIndex,
			Explanation: sentence,
		})
	}
	if len(quiz) == 0 {
		return nil, ErrInsufficientText
	}
	return quiz, nil
}

// BuildFlashcards pairs a blanked sentence with the term that fills it.
func BuildFlashcards(text string) (domain.FlashcardSet, error) {
	doc := analyze(text)

	var cards domain.FlashcardSet
	seen := make(map[string]bool)
	for _, i := range doc.ranked(len(doc.sentences)) {
		if len(cards) == MaxFlashcards {
			break
		}
		sentence := doc.sentences[i]
		term, ok := doc.keyTerm(sentence)
		if !ok || seen[term] {
			continue
		}
		seen[term] = true
		cards = append(cards, domain.Flashcard{
			Front: cloze(sentence, term),
			Back:  term,
			Hint:  fmt.Sprintf("%d letters", len([]rune(term))),
		})
	}
	if len(cards) == 0 {
		return nil, ErrInsufficientText
	}
	return cards, nil
}

// BuildSlides groups consecutive sentences into slides titled after their
// most frequent term.
func BuildSlides(text string) (domain.SlideDeck, error) {
	doc := analyze(text)
	if len(doc.sentences) == 0 {
		return nil, ErrInsufficientText
	}

	var deck domain.SlideDeck
	for start := 0; start < len(doc.sentences) && len(deck) < MaxSlides; start += SentencesPerSlide {
		end := min(start+SentencesPerSlide, len(doc.sentences))
		bullets := doc.sentences[start:end]

		heading := fmt.Sprintf("Part %d", len(deck)+1)
		if term, ok := doc.keyTerm(strings.Join(bullets, " ")); ok {
			heading = title(term)
		}
		deck = append(deck, domain.Slide{
			Title:   heading,
			Bullets: append([]string(nil), bullets...),
		})
	}
	return deck, nil
}

// Classify reports a general category with the dominant term as subject.
// Confidence is zero since nothing was actually classified.
func Classify(text string) (domain.Classification, error) {
	doc := analyze(text)
	if len(doc.terms) == 0 {
		return domain.Classification{}, ErrInsufficientText
	}
	return domain.Classification{
		Category:   "general",
		Subject:    title(doc.terms[0]),
		Confidence: 0,
	}, nil
}
