// Package emotion implements the per-utterance emotion classification
// stage ported from original_source/core/engine/src/emotion_adapter/
// xlmr_emotion.rs: an XLM-R text classifier with two post-processing
// rules applied on top of the raw softmax — very short transcripts and
// low-margin predictions both collapse to "neutral" rather than reporting
// a shaky guess. Analyzer is engine-agnostic the same way pkg/vad's VAD
// wraps an InferenceEngine: the post-processing rules live here, once,
// regardless of which Engine supplies the raw per-label logits.
package emotion

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// CanonicalLabels is the standard emotion taxonomy every Engine's output
// gets normalized into (Emotion_Adapter_Spec.md in the original tree).
var CanonicalLabels = []string{"neutral", "joy", "sadness", "anger", "fear", "surprise"}

// marginThreshold is the minimum gap between the top-1 and top-2 softmax
// probabilities required to trust the top-1 label instead of collapsing
// to neutral.
const marginThreshold = 0.1

// shortTextRuneThreshold is the trimmed rune-count floor below which a
// transcript is too short to classify at all.
const shortTextRuneThreshold = 3

// Request is one utterance's emotion-analysis input.
type Request struct {
	Text     string
	Language string
}

// Result is the classifier's output: a canonical primary label plus the
// top-1 probability reused as both intensity and confidence, mirroring
// the original's EmotionResponse.
type Result struct {
	Primary    string
	Intensity  float32
	Confidence float32
}

// Engine produces raw per-label logits for a span of text. Classify must
// return logits ordered to match Labels(). Implementations are expected
// to be safe for concurrent use.
type Engine interface {
	Classify(ctx context.Context, text string) ([]float32, error)
	Labels() []string
	Close() error
}

// Analyzer wraps an Engine with the original's text-length and
// softmax-margin post-processing rules.
type Analyzer struct {
	engine Engine
}

// New creates an Analyzer over engine.
func New(engine Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// Analyze runs emotion classification on req.Text.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	trimmed := strings.TrimSpace(req.Text)
	if len([]rune(trimmed)) < shortTextRuneThreshold {
		return Result{Primary: "neutral", Intensity: 0, Confidence: 1}, nil
	}

	logits, err := a.engine.Classify(ctx, trimmed)
	if err != nil {
		return Result{}, fmt.Errorf("emotion: classify: %w", err)
	}
	if len(logits) == 0 {
		return Result{}, fmt.Errorf("emotion: engine returned no logits")
	}

	probs := softmax(logits)
	top1Idx, top1, top2 := topTwo(probs)

	primary := "neutral"
	if top1-top2 >= marginThreshold {
		labels := a.engine.Labels()
		label := fmt.Sprintf("unknown_%d", top1Idx)
		if top1Idx >= 0 && top1Idx < len(labels) {
			label = labels[top1Idx]
		}
		primary = normalizeEmotionLabel(label)
	}

	return Result{Primary: primary, Intensity: top1, Confidence: top1}, nil
}

// Close releases the underlying engine.
func (a *Analyzer) Close() error {
	return a.engine.Close()
}

func softmax(logits []float32) []float32 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - max)))
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// topTwo returns the index and probability of the highest-probability
// label plus the second-highest probability (-1 if there is only one
// label), in one linear pass.
func topTwo(probs []float32) (idx int, top1, top2 float32) {
	idx = -1
	top1, top2 = -1, -1
	for i, p := range probs {
		switch {
		case p > top1:
			top2 = top1
			top1 = p
			idx = i
		case p > top2:
			top2 = p
		}
	}
	return idx, top1, top2
}
