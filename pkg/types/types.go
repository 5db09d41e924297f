// Package types defines the shared value types that flow through the
// speech-to-speech translation pipeline: audio frames, transcripts,
// translation responses, TTS chunks and speaker-identification results.
//
// These are intentionally plain data structures with no behavior beyond
// small accessors — each pipeline stage (pkg/vad, pkg/asr, pkg/speaker,
// pkg/nmt, pkg/tts, pkg/segment) owns the logic that produces or consumes
// them. Keeping them here avoids import cycles between stages.
package types

// AudioFrame is a single frame of raw audio flowing into the pipeline.
// Frames are immutable after creation. Timestamp is monotonic per session.
type AudioFrame struct {
	SampleRate  uint32
	Channels    uint8
	Data        []float32 // samples in [-1, 1]
	TimestampMs uint64
	// Final marks the last frame of a one-shot HTTP request (POST /s2s),
	// forcing VAD to treat it as an immediate boundary regardless of the
	// natural-pause rules.
	Final bool
}

// DurationMs returns the playback duration of the frame in milliseconds.
func (f AudioFrame) DurationMs() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(len(f.Data)) * 1000.0 / float64(f.SampleRate)
}

// PartialTranscript is an interim, non-authoritative ASR result.
type PartialTranscript struct {
	Text       string
	Confidence float32
	IsFinal    bool
}

// StableTranscript is the authoritative ASR result for one utterance.
type StableTranscript struct {
	Text      string
	SpeakerID string // optional, empty when unknown
	Language  string // normalized language code
}

// Gender is the coarse speaker gender estimate used to pick a default
// voice when no embedding could be extracted.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// SpeakerIdentificationResult is the output of one speaker-identification
// call, produced per boundary and consumed by NMT/TTS before being
// dropped.
type SpeakerIdentificationResult struct {
	SpeakerID       string
	IsNewSpeaker    bool
	Confidence      float32
	VoiceEmbedding  []float32 // nil when no embedding was extracted
	ReferenceAudio  []float32 // nil when audio was too short to keep
	EstimatedGender Gender    // only meaningful when VoiceEmbedding is nil
}

// QualityMetrics carries optional NMT decoding-quality signals used by the
// pipeline orchestrator's VAD feedback loop.
type QualityMetrics struct {
	Perplexity     float64
	AvgProbability float64
	MinProbability float64
}

// TranslationRequest is the input to the NMT client.
type TranslationRequest struct {
	Text             string
	SourceLanguage   string
	TargetLanguage   string
	SpeakerID        string // optional, enables server-side multi-user routing
}

// TranslationResponse is the output of the NMT client.
type TranslationResponse struct {
	TranslatedText        string
	IsStable              bool
	SpeakerID             string
	SourceAudioDurationMs uint64
	SourceText            string
	SourceLanguage        string
	QualityMetrics        *QualityMetrics // nil when the backend didn't report any
}

// TtsStreamChunk is one segment of synthesized audio, already WAV-wrapped.
type TtsStreamChunk struct {
	Audio       []byte // WAV container, PCM16 mono
	TimestampMs uint64
	IsLast      bool
}

// PauseType tags the kind of boundary a text segment ended on, consumed by
// downstream audio assembly to insert the matching silence.
type PauseType int

const (
	PauseNone PauseType = iota
	PauseComma
	PauseSentenceEnd
)

// String implements fmt.Stringer.
func (p PauseType) String() string {
	switch p {
	case PauseComma:
		return "comma"
	case PauseSentenceEnd:
		return "sentence_end"
	default:
		return "none"
	}
}

// Segment is one sentence-like chunk produced by text segmentation.
type Segment struct {
	Text      string
	PauseType PauseType
	Index     int
}

// BoundaryType distinguishes a natural VAD-detected pause from a boundary
// forced by the audio buffer overflowing its hard ceiling.
type BoundaryType int

const (
	BoundaryNaturalPause BoundaryType = iota
	BoundaryForcedCutoff
)

// String implements fmt.Stringer.
func (b BoundaryType) String() string {
	if b == BoundaryForcedCutoff {
		return "forced_cutoff"
	}
	return "natural_pause"
}

// FeedbackKind is the direction of a quality-feedback adjustment applied
// to the adaptive VAD delta.
type FeedbackKind int

const (
	BoundaryTooLong FeedbackKind = iota
	BoundaryTooShort
)

// VADResult is the per-frame output of the voice activity detector.
type VADResult struct {
	IsBoundary   bool
	Confidence   float32
	Frame        AudioFrame
	BoundaryType BoundaryType
}
