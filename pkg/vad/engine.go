package vad

import (
	"math"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// InferenceEngine produces a per-frame speech probability. Implementations
// vary (local ONNX model, simple energy heuristic); the adaptive control
// loop in VAD is engine-agnostic and never type-switches on a concrete
// engine, per the "dynamic dispatch over stages" design note.
type InferenceEngine interface {
	// Infer returns the probability that frame contains speech, in [0,1].
	// Must not block on network I/O.
	Infer(frame types.AudioFrame) (float32, error)
	// Reset clears any recurrent state held between frames of one session.
	Reset()
	// Close releases engine resources (model handles, native buffers).
	Close() error
}

// RMSEnergyEngine is the default InferenceEngine: no native model, no cgo
// dependency. It derives a speech-probability proxy from the root-mean-
// square amplitude of the frame, mapped through a soft knee so it behaves
// like a probability rather than a raw energy value. Adapted from the
// hysteresis-free RMS calculation used for voice-assistant barge-in
// detection, generalized here into a continuous [0,1] score instead of a
// boolean so it plugs into the same threshold-comparison code path as a
// neural engine's output.
type RMSEnergyEngine struct {
	// noiseFloor and speechCeiling bound the linear region of the knee;
	// below noiseFloor the score is ~0, above speechCeiling it saturates
	// near 1.
	noiseFloor    float64
	speechCeiling float64
}

// NewRMSEnergyEngine creates an RMSEnergyEngine with sensible defaults for
// 16-bit PCM normalized to [-1,1].
func NewRMSEnergyEngine() *RMSEnergyEngine {
	return &RMSEnergyEngine{
		noiseFloor:    0.005,
		speechCeiling: 0.08,
	}
}

func (e *RMSEnergyEngine) Infer(frame types.AudioFrame) (float32, error) {
	if len(frame.Data) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range frame.Data {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame.Data)))

	span := e.speechCeiling - e.noiseFloor
	if span <= 0 {
		span = 1
	}
	score := (rms - e.noiseFloor) / span
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return float32(score), nil
}

func (e *RMSEnergyEngine) Reset() {}

func (e *RMSEnergyEngine) Close() error { return nil }
