// Package vad implements the adaptive-threshold voice activity detector of
// spec.md §4.1: per-frame speech/silence classification, natural-pause
// boundary detection, speech-rate-driven threshold adaptation and
// quality-feedback delta adjustment.
package vad

import (
	"sync"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// state is the detector's internal phase, mirroring spec.md's
// Idle -> SpeechPending -> Silenced -> BoundaryFired -> Idle machine. It is
// descriptive bookkeeping; the actual boundary decision is the five-rule
// conjunction in Detect.
type state int

const (
	stateIdle state = iota
	stateSpeechPending
	stateSilenced
)

// VAD is one adaptive detector instance, owning its own AdaptiveState per
// spec.md §9 ("avoid any module-level singleton"). It is safe for
// concurrent use: all mutable fields are guarded by mu, matching spec.md
// §5's requirement that the neural model's hidden state be accessed under
// a mutex ensuring sequential inference per session.
type VAD struct {
	mu sync.Mutex

	engine InferenceEngine
	cfg    Config
	state  *AdaptiveState

	phase                   state
	hasSpeechSinceBoundary  bool
	silenceRunStartMs       uint64
	silenceRunActive        bool
	lastSpeechTimestampMs   uint64
	lastBoundaryMs          uint64
	haveLastBoundary        bool
	lastFrameTimestampMs    uint64
	haveLastFrameTimestamp  bool
}

// New creates a VAD backed by engine, with its own adaptive state seeded
// from cfg.
func New(engine InferenceEngine, cfg Config) *VAD {
	return &VAD{
		engine: engine,
		cfg:    cfg,
		state:  NewAdaptiveState(cfg),
	}
}

// AdaptiveState exposes the underlying threshold state, e.g. so the
// pipeline orchestrator can report it on a metrics gauge.
func (v *VAD) AdaptiveState() *AdaptiveState { return v.state }

// Detect classifies frame and evaluates the boundary rule. It does not
// block on I/O. A model-inference error returns is_boundary=false,
// confidence=0.5 and propagates the error upward, with the frame still
// attached so the caller's buffer bookkeeping stays coherent (spec.md
// §4.1 failure semantics).
func (v *VAD) Detect(frame types.AudioFrame) (types.VADResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prob, err := v.engine.Infer(frame)
	if err != nil {
		return types.VADResult{IsBoundary: false, Confidence: 0.5, Frame: frame}, err
	}

	now := frame.TimestampMs
	if v.haveLastFrameTimestamp && now < v.lastFrameTimestampMs {
		// Abnormal (non-monotonic) timestamp: reset the contiguous-silence
		// tracker conservatively and surface the condition so the caller
		// can log it, per spec.md §7's overflow/invariant-violation class.
		v.silenceRunActive = false
		v.lastFrameTimestampMs = now
		return types.VADResult{IsBoundary: false, Confidence: prob, Frame: frame}, apperr.ErrAbnormalTimestamp
	}
	v.lastFrameTimestampMs = now
	v.haveLastFrameTimestamp = true

	isSilence := prob < v.cfg.SilenceProbThreshold

	if !isSilence {
		v.phase = stateSpeechPending
		v.hasSpeechSinceBoundary = true
		v.lastSpeechTimestampMs = now
		v.silenceRunActive = false
		return types.VADResult{IsBoundary: false, Confidence: prob, Frame: frame}, nil
	}

	// Silence frame.
	v.phase = stateSilenced
	if !v.silenceRunActive {
		v.silenceRunActive = true
		v.silenceRunStartMs = now
	}

	eff := v.state.EffectiveThreshold()
	silenceDuration := now - v.silenceRunStartMs
	sinceLastSpeech := now - v.lastSpeechTimestampMs

	cond2 := silenceDuration >= uint64(eff)
	cond3 := v.hasSpeechSinceBoundary
	cond4 := sinceLastSpeech >= uint64(v.cfg.MinUtteranceMs)
	cond5 := !v.haveLastBoundary || (now-v.lastBoundaryMs) >= uint64(eff)

	if cond2 && cond3 && cond4 && cond5 {
		v.lastBoundaryMs = now
		v.haveLastBoundary = true
		v.hasSpeechSinceBoundary = false
		v.phase = stateIdle
		return types.VADResult{
			IsBoundary:   true,
			Confidence:   prob,
			Frame:        frame,
			BoundaryType: types.BoundaryNaturalPause,
		}, nil
	}

	return types.VADResult{IsBoundary: false, Confidence: prob, Frame: frame}, nil
}

// ForceBoundary is called by the audio buffer manager when it raises an
// overflow-forced boundary independent of the rule 1-5 evaluation above.
// It still clears the "speech seen since last boundary" bookkeeping so the
// next natural boundary isn't fired spuriously from stale state.
func (v *VAD) ForceBoundary(now uint64) types.VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastBoundaryMs = now
	v.haveLastBoundary = true
	v.hasSpeechSinceBoundary = false
	v.silenceRunActive = false
	v.phase = stateIdle

	return types.VADResult{
		IsBoundary:   true,
		Confidence:   1.0,
		BoundaryType: types.BoundaryForcedCutoff,
	}
}

// UpdateSpeechRate forwards to the adaptive state; called after each final
// ASR result (spec.md §4.1).
func (v *VAD) UpdateSpeechRate(charCount int, audioDurationMs uint64) {
	if audioDurationMs == 0 {
		return
	}
	rate := float64(charCount) / (float64(audioDurationMs) / 1000.0)
	v.state.UpdateSpeechRate(rate)
}

// AdjustDeltaByFeedback forwards to the adaptive state.
func (v *VAD) AdjustDeltaByFeedback(kind types.FeedbackKind, amountMs float64) {
	v.state.AdjustDeltaByFeedback(kind, amountMs)
}

// EffectiveThreshold returns the current effective silence threshold.
func (v *VAD) EffectiveThreshold() int { return v.state.EffectiveThreshold() }

// Reset returns the detector to Idle and clears all history/state,
// including the underlying inference engine's recurrent state.
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.phase = stateIdle
	v.hasSpeechSinceBoundary = false
	v.silenceRunActive = false
	v.lastSpeechTimestampMs = 0
	v.haveLastBoundary = false
	v.lastBoundaryMs = 0
	v.haveLastFrameTimestamp = false
	v.lastFrameTimestampMs = 0
	v.state.Reset()
	v.engine.Reset()
}

// Close releases the underlying inference engine.
func (v *VAD) Close() error {
	return v.engine.Close()
}
