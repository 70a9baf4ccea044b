package brain

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// recentResponseLimit is the size of the ring of recent responses checked
// for near-duplicates.
const recentResponseLimit = 5

// normalizedSimilarity returns a similarity ratio in [0,1] between two
// strings: 1 − editDistance/maxLen, computed case-insensitively.
func normalizedSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// isNearDuplicate reports whether text matches any recent response, either
// exactly (case-insensitive) or with similarity above threshold. Models tend
// to repeat phrasing under similar stimuli; this keeps the persona from
// audibly looping.
func isNearDuplicate(text string, recent []string, threshold float64) bool {
	for _, prev := range recent {
		if strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(prev)) {
			return true
		}
		if normalizedSimilarity(text, prev) > threshold {
			return true
		}
	}
	return false
}
