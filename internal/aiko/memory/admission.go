package memory

import (
	"regexp"
	"strings"
)

// DefaultMinWords is the word-count floor above which a line is always
// considered save-worthy. Heuristic constant, kept configurable on purpose.
const DefaultMinWords = 5

// savePatterns are the semantic cues that make a short line worth keeping:
// activities, stated preferences, identity and naming, relative time
// references, habitual adverbs, event nouns, and multi-word capitalized
// spans that look like proper names. Recall-biased — false positives are
// cheap, false negatives lose memories.
var savePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(play(?:ed|ing)?|watch(?:ed|ing)?|stream(?:ed|ing)?)\b`),
	regexp.MustCompile(`(?i)\b(love|hate|like|prefer|favorite)\b`),
	regexp.MustCompile(`(?i)\b(name(?:d)?|call(?:ed)?)\b`),
	regexp.MustCompile(`(?i)\b(tomorrow|yesterday|next\s+\w+|last\s+\w+)\b`),
	regexp.MustCompile(`(?i)\b(always|never|usually|sometimes)\b`),
	regexp.MustCompile(`(?i)\b(birthday|anniversary|holiday)\b`),
	regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`), // case-sensitive
}

// Admission decides which lines are worth persisting to long-term memory.
// The zero value uses DefaultMinWords.
type Admission struct {
	// MinWords is the word-count threshold. Values ≤ 0 fall back to
	// DefaultMinWords.
	MinWords int
}

// ShouldSave reports whether content is worth storing in long-term memory.
// Deterministic and free of side effects: the same content always yields
// the same answer regardless of call order.
func (a Admission) ShouldSave(content string) bool {
	minWords := a.MinWords
	if minWords <= 0 {
		minWords = DefaultMinWords
	}

	if len(strings.Fields(content)) >= minWords {
		return true
	}
	for _, p := range savePatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}
