package engine

import (
	"strings"
	"unicode"
)

// normalizeText lowercases text and collapses every run of non alphanumeric
// characters into a single space, padded on both sides so phrases can be
// matched on word boundaries.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// containsPhrase reports whether the normalised text holds keyword as whole words.
func containsPhrase(normalized, keyword string) bool {
	kw := normalizeText(keyword)
	if strings.TrimSpace(kw) == "" {
		return false
	}
	return strings.Contains(normalized, kw)
}

func containsAnyPhrase(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if containsPhrase(normalized, kw) {
			return true
		}
	}
	return false
}

// negators flip the meaning of a marker word that follows within negationWindow
// words, as in "still not healthy" or "no longer operational".
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "without": {}, "cannot": {}, "unable": {},
}

const negationWindow = 2

// containsAffirmedPhrase is containsAnyPhrase ignoring negated occurrences.
func containsAffirmedPhrase(normalized string, keywords []string) bool {
	words := strings.Fields(normalized)
	for _, kw := range keywords {
		phrase := strings.Fields(normalizeText(kw))
		if len(phrase) == 0 {
			continue
		}
		for i := 0; i+len(phrase) <= len(words); i++ {
			if wordsEqual(words[i:i+len(phrase)], phrase) && !negated(words, i) {
				return true
			}
		}
	}
	return false
}

func wordsEqual(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// negated inspects the words before position i. Contractions such as "isn't"
// normalise to "isn t"; "failed to" and "yet to" also negate.
func negated(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationWindow; j-- {
		w := words[j]
		if _, ok := negators[w]; ok {
			return true
		}
		if w == "t" && j > 0 && strings.HasSuffix(words[j-1], "n") {
			return true
		}
		if w == "to" && j > 0 && (words[j-1] == "failed" || words[j-1] == "yet") {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
