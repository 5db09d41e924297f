package vad

import (
	"math"
	"sync"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Config holds the tunable bounds of the adaptive VAD control loop. All
// durations are in milliseconds unless noted. Defaults mirror the source
// engine's SileroVadConfig.
type Config struct {
	SilenceProbThreshold float32 // frame classified as silence below this
	BaseMinMs            int
	BaseMaxMs            int
	DeltaMinMs           int
	DeltaMaxMs           int
	FinalMinMs           int
	FinalMaxMs           int
	MinUtteranceMs       int
	AdaptiveRate         float64 // EWMA smoothing factor, typical 0.4
	SpeechRateHistoryCap int     // N=20
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		SilenceProbThreshold: 0.5,
		BaseMinMs:            200,
		BaseMaxMs:            800,
		DeltaMinMs:           -300,
		DeltaMaxMs:           300,
		FinalMinMs:           150,
		FinalMaxMs:           1000,
		MinUtteranceMs:       250,
		AdaptiveRate:         0.4,
		SpeechRateHistoryCap: 20,
	}
}

// AdaptiveState is the per-detector, mutex-protected adaptive threshold
// state described in spec.md §3. update_speech_rate and
// adjust_delta_by_feedback are the only mutators; there is no
// module-level singleton, per spec.md §9 — each VAD instance owns one.
type AdaptiveState struct {
	mu sync.Mutex

	cfg Config

	speechRateHistory []float64
	baseThresholdMs   float64
	deltaMs           float64
}

// NewAdaptiveState creates state seeded at the center of [BaseMin, BaseMax]
// with zero delta.
func NewAdaptiveState(cfg Config) *AdaptiveState {
	return &AdaptiveState{
		cfg:             cfg,
		baseThresholdMs: float64(cfg.BaseMinMs+cfg.BaseMaxMs) / 2.0,
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// UpdateSpeechRate implements spec.md §4.1 update_speech_rate. rate is in
// characters per second; samples outside [0.5, 50.0] are discarded as
// obvious misrecognitions.
func (s *AdaptiveState) UpdateSpeechRate(rate float64) {
	if rate < 0.5 || rate > 50.0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.speechRateHistory = append(s.speechRateHistory, rate)
	if len(s.speechRateHistory) > s.cfg.SpeechRateHistoryCap {
		s.speechRateHistory = s.speechRateHistory[len(s.speechRateHistory)-s.cfg.SpeechRateHistoryCap:]
	}

	multiplier := clamp(1.0+(0.5-sigmoid((rate-6.0)/2.0))*0.4, 0.5, 1.5)
	center := float64(s.cfg.BaseMinMs+s.cfg.BaseMaxMs) / 2.0
	target := multiplier * center

	s.baseThresholdMs = s.baseThresholdMs*(1-s.cfg.AdaptiveRate) + target*s.cfg.AdaptiveRate
	s.baseThresholdMs = clamp(s.baseThresholdMs, float64(s.cfg.BaseMinMs), float64(s.cfg.BaseMaxMs))
}

// AdjustDeltaByFeedback implements spec.md §4.1 adjust_delta_by_feedback.
func (s *AdaptiveState) AdjustDeltaByFeedback(kind types.FeedbackKind, amountMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case types.BoundaryTooLong:
		s.deltaMs -= amountMs
	case types.BoundaryTooShort:
		s.deltaMs += amountMs
	}
	s.deltaMs = clamp(s.deltaMs, float64(s.cfg.DeltaMinMs), float64(s.cfg.DeltaMaxMs))
}

// EffectiveThreshold returns clamp(base+delta, final_min, final_max),
// guaranteed in range at all times (spec.md §8 invariant 3).
func (s *AdaptiveState) EffectiveThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(clamp(s.baseThresholdMs+s.deltaMs, float64(s.cfg.FinalMinMs), float64(s.cfg.FinalMaxMs)))
}

// Reset clears all history/state back to the construction defaults.
func (s *AdaptiveState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speechRateHistory = nil
	s.baseThresholdMs = float64(s.cfg.BaseMinMs+s.cfg.BaseMaxMs) / 2.0
	s.deltaMs = 0
}
