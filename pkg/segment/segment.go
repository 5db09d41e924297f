// Package segment splits translated text into sentence-like segments for
// parallel synthesis, per spec.md §4.7. The terminator scan (decimal and
// abbreviation awareness, comma-splitting with pause tagging, length-based
// re-split at the last comma/whitespace) is a direct port of the
// character-scan algorithm in the original text-segmentation module; the
// fixed-width CJK-aware fallback for long unpunctuated runs is new,
// expressed in the same idiom.
package segment

import (
	"strings"
	"unicode"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

const (
	// DefaultMaxSentenceLength is the character-count ceiling before a
	// segment is force-split at the last comma/semicolon or whitespace.
	DefaultMaxSentenceLength = 50

	// fallbackChunkMin/Max bound the fixed-width fallback split window for
	// long unpunctuated runs (spec.md §4.7 rule 4).
	fallbackChunkMin = 12
	fallbackChunkMax = 18
)

// cjkModalParticles are sentence-final particles that make a natural break
// point in unpunctuated Chinese text even without a comma.
var cjkModalParticles = map[rune]bool{'吗': true, '呢': true, '吧': true}

// titleAbbreviations are lowercased words whose trailing '.' never ends a
// sentence ("Dr. Smith").
var titleAbbreviations = map[string]bool{"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "st": true, "jr": true, "sr": true}

// Segmenter splits text into TextSegments carrying a PauseType.
type Segmenter struct {
	MaxSentenceLength int
	SplitOnComma      bool
}

// New creates a Segmenter with comma-splitting disabled.
func New(maxSentenceLength int) *Segmenter {
	return &Segmenter{MaxSentenceLength: maxSentenceLength}
}

// NewWithCommaSplitting creates a Segmenter that also breaks on commas,
// tagging those breaks PauseComma.
func NewWithCommaSplitting(maxSentenceLength int) *Segmenter {
	return &Segmenter{MaxSentenceLength: maxSentenceLength, SplitOnComma: true}
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isComma(r rune) bool {
	switch r {
	case ',', '，':
		return true
	}
	return false
}

func isCommaOrSemicolon(r rune) bool {
	switch r {
	case ',', ';', '，', '；':
		return true
	}
	return false
}

// Segment splits text into pause-tagged segments. Empty and whitespace-only
// segments are discarded; if no split point exists the whole trimmed text
// is returned as a single PauseNone segment.
func (s *Segmenter) Segment(text string) []types.Segment {
	runes := []rune(text)
	var segments []types.Segment
	var current []rune

	emit := func(raw []rune, pause types.PauseType) {
		t := strings.TrimSpace(string(raw))
		if t == "" {
			return
		}
		segments = append(segments, types.Segment{Text: t, PauseType: pause, Index: len(segments)})
	}

	maxLen := s.MaxSentenceLength
	if maxLen <= 0 {
		maxLen = DefaultMaxSentenceLength
	}

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		current = append(current, ch)

		switch {
		case isSentenceEnd(ch):
			shouldSplit := true
			if ch == '.' {
				prevIsDigit := len(current) >= 2 && unicode.IsDigit(current[len(current)-2])
				var nextIsDigit bool
				if i+1 < len(runes) {
					nextIsDigit = unicode.IsDigit(runes[i+1])
				}
				switch {
				case prevIsDigit && nextIsDigit:
					shouldSplit = false // decimal point
				case prevIsDigit && !nextIsDigit:
					shouldSplit = true // "1.0." — the trailing period still ends the sentence
				default:
					isAbbreviation := false
					if i+1 < len(runes) {
						next := runes[i+1]
						isAbbreviation = unicode.IsLetter(next) && unicode.IsLower(next)
					}
					if !isAbbreviation {
						start := len(current) - 1
						for start > 0 && unicode.IsLetter(current[start-1]) {
							start--
						}
						isAbbreviation = titleAbbreviations[strings.ToLower(string(current[start:len(current)-1]))]
					}
					shouldSplit = !isAbbreviation
				}
			}

			if shouldSplit {
				emit(current, types.PauseSentenceEnd)
				current = nil
				continue
			}

		case isComma(ch) && s.SplitOnComma:
			emit(current, types.PauseComma)
			current = nil
			continue
		}

		if len(current) >= maxLen {
			current = s.splitOverlong(current, emit)
		}
	}

	emit(current, types.PauseNone)

	if len(segments) == 0 && strings.TrimSpace(text) != "" {
		segments = append(segments, types.Segment{Text: strings.TrimSpace(text), PauseType: types.PauseNone, Index: 0})
	}

	return reindex(segments)
}

// splitOverlong implements spec.md §4.7 rules 3-4: split at the last
// internal comma/semicolon; failing that, at the last whitespace; failing
// that, at a fixed-width boundary preferring a word/CJK-particle edge.
// Returns the remainder to keep accumulating.
func (s *Segmenter) splitOverlong(current []rune, emit func([]rune, types.PauseType)) []rune {
	for i := len(current) - 1; i >= 0; i-- {
		if isCommaOrSemicolon(current[i]) {
			emit(current[:i+1], types.PauseComma)
			return current[i+1:]
		}
	}
	for i := len(current) - 1; i >= 0; i-- {
		if unicode.IsSpace(current[i]) {
			emit(current[:i], types.PauseNone)
			return current[i:]
		}
	}
	return s.fallbackChunk(current, emit)
}

// fallbackChunk cuts one chunk of fallbackChunkMin..Max characters off the
// front of unpunctuated text, preferring to land on a word boundary or
// right after a CJK modal particle when one falls inside the window, and
// returns the rest uncut.
func (s *Segmenter) fallbackChunk(current []rune, emit func([]rune, types.PauseType)) []rune {
	if len(current) < fallbackChunkMax {
		return current
	}

	cut := fallbackChunkMax
	for i := fallbackChunkMax; i >= fallbackChunkMin; i-- {
		if i >= len(current) {
			continue
		}
		if cjkModalParticles[current[i-1]] {
			cut = i
			break
		}
		if unicode.IsSpace(current[i]) {
			cut = i
			break
		}
	}

	emit(current[:cut], types.PauseNone)
	return current[cut:]
}

func reindex(segments []types.Segment) []types.Segment {
	for i := range segments {
		segments[i].Index = i
	}
	return segments
}

// Join reverses Segment for round-trip testing: strips pause markers
// (there are none embedded in the text itself) and concatenates segment
// text with single spaces, matching spec.md §8 invariant 5 up to outer
// whitespace normalization.
func Join(segments []types.Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
