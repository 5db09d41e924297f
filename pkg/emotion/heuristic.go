package emotion

import (
	"context"
	"strings"
)

// keywordLexicon is a small, English-centric seed lexicon used only when
// no XLM-R model is configured. It exists so the pipeline always has a
// working emotion signal without requiring a downloaded model, the same
// role pkg/vad's RMSEnergyEngine plays as the dependency-free VAD
// fallback.
var keywordLexicon = map[string][]string{
	"joy":      {"happy", "great", "glad", "wonderful", "love", "excited", "awesome", "yay"},
	"sadness":  {"sad", "sorry", "unfortunately", "miss", "cry", "depressed", "upset"},
	"anger":    {"angry", "furious", "hate", "annoyed", "mad", "outrageous"},
	"fear":     {"afraid", "scared", "worried", "nervous", "terrified", "anxious"},
	"surprise": {"wow", "surprised", "unexpected", "shocked", "whoa", "really?"},
}

// neutralBias is added to the neutral logit so text matching no keyword
// stays neutral rather than picking an arbitrary zero-logit label.
const neutralBias = 0.5

// KeywordEngine is the default Engine: a keyword-count classifier with no
// external model dependency.
type KeywordEngine struct{}

// NewKeywordEngine creates a KeywordEngine.
func NewKeywordEngine() *KeywordEngine {
	return &KeywordEngine{}
}

// Labels returns CanonicalLabels.
func (k *KeywordEngine) Labels() []string {
	return append([]string(nil), CanonicalLabels...)
}

// Classify scores text against keywordLexicon, one logit per
// CanonicalLabels entry.
func (k *KeywordEngine) Classify(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	logits := make([]float32, len(CanonicalLabels))
	for i, label := range CanonicalLabels {
		if label == "neutral" {
			logits[i] = neutralBias
			continue
		}
		for _, kw := range keywordLexicon[label] {
			if strings.Contains(lower, kw) {
				logits[i]++
			}
		}
	}
	return logits, nil
}

// Close is a no-op; KeywordEngine holds no resources.
func (k *KeywordEngine) Close() error { return nil }
