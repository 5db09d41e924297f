package nmt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

func TestEvaluateQualityFeedbackHighPerplexityTriggers(t *testing.T) {
	resp := types.TranslationResponse{
		TranslatedText: "hello there friend",
		QualityMetrics: &types.QualityMetrics{Perplexity: 150, AvgProbability: 0.5, MinProbability: 0.1},
	}
	kind, amount, ok := EvaluateQualityFeedback(resp, 10)
	assert.True(t, ok)
	assert.Equal(t, types.BoundaryTooShort, kind)
	assert.Equal(t, 150.0, amount)
}

func TestEvaluateQualityFeedbackLowAvgProbabilityTriggers(t *testing.T) {
	resp := types.TranslationResponse{
		TranslatedText: "hello there friend",
		QualityMetrics: &types.QualityMetrics{Perplexity: 5, AvgProbability: 0.01, MinProbability: 0.5},
	}
	_, _, ok := EvaluateQualityFeedback(resp, 10)
	assert.True(t, ok)
}

func TestEvaluateQualityFeedbackLowMinProbabilityTriggers(t *testing.T) {
	resp := types.TranslationResponse{
		TranslatedText: "hello there friend",
		QualityMetrics: &types.QualityMetrics{Perplexity: 5, AvgProbability: 0.8, MinProbability: 0.0001},
	}
	_, _, ok := EvaluateQualityFeedback(resp, 10)
	assert.True(t, ok)
}

func TestEvaluateQualityFeedbackLengthRatioOutOfRangeTriggers(t *testing.T) {
	resp := types.TranslationResponse{TranslatedText: "hi"}
	_, _, ok := EvaluateQualityFeedback(resp, 100)
	assert.True(t, ok)

	resp2 := types.TranslationResponse{TranslatedText: "this translation is way too long for the short source"}
	_, _, ok2 := EvaluateQualityFeedback(resp2, 10)
	assert.True(t, ok2)
}

func TestEvaluateQualityFeedbackNoTriggerWhenHealthy(t *testing.T) {
	resp := types.TranslationResponse{
		TranslatedText: "a reasonably sized translation",
		QualityMetrics: &types.QualityMetrics{Perplexity: 10, AvgProbability: 0.8, MinProbability: 0.2},
	}
	_, _, ok := EvaluateQualityFeedback(resp, 25)
	assert.False(t, ok)
}

func TestEvaluateQualityFeedbackNoMetricsNoSourceLen(t *testing.T) {
	resp := types.TranslationResponse{TranslatedText: "some text"}
	_, _, ok := EvaluateQualityFeedback(resp, 0)
	assert.False(t, ok)
}
