package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// scriptedEngine returns a fixed sequence of probabilities, one per call,
// repeating the last value once exhausted.
type scriptedEngine struct {
	probs []float32
	i     int
}

func (e *scriptedEngine) Infer(types.AudioFrame) (float32, error) {
	if e.i >= len(e.probs) {
		return e.probs[len(e.probs)-1], nil
	}
	p := e.probs[e.i]
	e.i++
	return p, nil
}
func (e *scriptedEngine) Reset()       { e.i = 0 }
func (e *scriptedEngine) Close() error { return nil }

func frameAt(ts uint64) types.AudioFrame {
	return types.AudioFrame{SampleRate: 16000, Channels: 1, Data: make([]float32, 160), TimestampMs: ts}
}

func TestEffectiveThresholdAlwaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	s := NewAdaptiveState(cfg)

	for _, rate := range []float64{0.1, 1, 3, 6, 10, 20, 60, 100} {
		s.UpdateSpeechRate(rate)
	}
	for i := 0; i < 20; i++ {
		s.AdjustDeltaByFeedback(types.BoundaryTooShort, 150)
	}
	for i := 0; i < 40; i++ {
		s.AdjustDeltaByFeedback(types.BoundaryTooLong, 150)
	}

	eff := s.EffectiveThreshold()
	assert.GreaterOrEqual(t, eff, cfg.FinalMinMs)
	assert.LessOrEqual(t, eff, cfg.FinalMaxMs)
}

func TestQualityFeedbackExactDelta(t *testing.T) {
	cfg := DefaultConfig()
	s := NewAdaptiveState(cfg)

	before := s.deltaMs
	s.AdjustDeltaByFeedback(types.BoundaryTooShort, 150)
	assert.InDelta(t, before+150, s.deltaMs, 0.001)

	s.AdjustDeltaByFeedback(types.BoundaryTooLong, 150)
	assert.InDelta(t, before, s.deltaMs, 0.001)
}

func TestSpeechRateAdaptationDirection(t *testing.T) {
	cfg := DefaultConfig()

	fast := NewAdaptiveState(cfg)
	for i := 0; i < 10; i++ {
		fast.UpdateSpeechRate(10)
	}
	fastThreshold := fast.EffectiveThreshold()

	slow := NewAdaptiveState(cfg)
	for i := 0; i < 10; i++ {
		slow.UpdateSpeechRate(3)
	}
	slowThreshold := slow.EffectiveThreshold()

	assert.Less(t, fastThreshold, slowThreshold)
}

func TestNoBoundaryWithoutPriorSpeech(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FinalMinMs, cfg.FinalMaxMs = 150, 150 // pin effective threshold
	cfg.BaseMinMs, cfg.BaseMaxMs = 150, 150
	cfg.MinUtteranceMs = 0

	engine := &scriptedEngine{probs: []float32{0.0}}
	v := New(engine, cfg)

	var fired bool
	for ts := uint64(0); ts <= 500; ts += 20 {
		res, err := v.Detect(frameAt(ts))
		require.NoError(t, err)
		if res.IsBoundary {
			fired = true
		}
	}
	assert.False(t, fired, "boundary must not fire without any prior speech frame")
}

func TestBoundaryFiresAfterSpeechThenSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FinalMinMs, cfg.FinalMaxMs = 150, 150
	cfg.BaseMinMs, cfg.BaseMaxMs = 150, 150
	cfg.MinUtteranceMs = 100

	// One speech frame, then many silence frames.
	engine := &scriptedEngine{probs: []float32{0.9}}
	v := New(engine, cfg)

	res, err := v.Detect(frameAt(0))
	require.NoError(t, err)
	assert.False(t, res.IsBoundary)

	var fired bool
	var firedAt uint64
	for ts := uint64(20); ts <= 1000; ts += 20 {
		r, err := v.Detect(frameAt(ts))
		require.NoError(t, err)
		if r.IsBoundary {
			fired = true
			firedAt = ts
			break
		}
	}
	require.True(t, fired)
	assert.GreaterOrEqual(t, firedAt, uint64(cfg.MinUtteranceMs))
}

func TestForceBoundaryClearsSpeechSeenFlag(t *testing.T) {
	cfg := DefaultConfig()
	engine := &scriptedEngine{probs: []float32{0.9}}
	v := New(engine, cfg)

	_, err := v.Detect(frameAt(0))
	require.NoError(t, err)

	res := v.ForceBoundary(100)
	assert.True(t, res.IsBoundary)
	assert.Equal(t, types.BoundaryForcedCutoff, res.BoundaryType)
	assert.False(t, v.hasSpeechSinceBoundary)
}
