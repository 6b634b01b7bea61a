package extract

import (
	"regexp"
	"strings"
)

var (
	spaceBeforePunct  = regexp.MustCompile(`\s+([.,!?;:،؛])`)
	noSpaceAfterPunct = regexp.MustCompile(`([.,!?;:،؛])([^\s\d.,!?;:،؛])`)
)

const (
	minRepeatedPhrase = 2
	maxRepeatedPhrase = 5
)

// CleanTranscript normalises whitespace and punctuation spacing and collapses
// immediately repeated phrases of two to five words, a common artefact of
// speech recognition ("machine learning machine learning" -> "machine learning").
func CleanTranscript(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = noSpaceAfterPunct.ReplaceAllString(text, "$1 $2")
	return collapseRepeats(strings.Fields(text))
}

func collapseRepeats(words []string) string {
	cleaned := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		repeated := false
		// longer phrases first
		for n := maxRepeatedPhrase; n >= minRepeatedPhrase; n-- {
			if i+2*n > len(words) {
				continue
			}
			if equalWords(words[i:i+n], words[i+n:i+2*n]) {
				cleaned = append(cleaned, words[i:i+n]...)
				i += 2 * n
				repeated = true
				break
			}
		}
		if !repeated {
			cleaned = append(cleaned, words[i])
			i++
		}
	}
	return strings.Join(cleaned, " ")
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
