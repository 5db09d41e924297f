package persona

import "strings"

// expandContractions replaces whole-word contraction matches (case folded,
// trailing punctuation ignored) with their expansion, preserving the
// original word's surrounding punctuation. Runs of whitespace between
// words collapse to a single space.
func expandContractions(text string, table map[string]string) string {
	words := strings.Fields(text)
	for i, w := range words {
		lead, core, trail := splitPunctuation(w)
		if expansion, ok := table[strings.ToLower(core)]; ok {
			words[i] = lead + expansion + trail
		}
	}
	return strings.Join(words, " ")
}

// splitPunctuation peels leading/trailing non-letter runes off w so
// contraction lookup ignores surrounding punctuation like quotes or a
// trailing comma.
func splitPunctuation(w string) (lead, core, trail string) {
	runes := []rune(w)
	start := 0
	for start < len(runes) && !isLetterOrApostrophe(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !isLetterOrApostrophe(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

func isLetterOrApostrophe(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '\''
}
