// Package orchestrator implements the pipeline orchestrator of spec.md
// §4.8: the control flow from "boundary detected" to "last TTS chunk
// published". Lock discipline, a per-utterance generation counter (attached
// to log lines so one utterance's messages can be correlated; it is not
// used to discard stale work), idempotent sync.Once Close, and non-blocking
// event emission
// are all adapted from the teacher's pkg/orchestrator/managed_stream.go.
package orchestrator

import (
	"sync"

	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
)

// Logger is the structured logging seam, backed by log/slog at the
// application boundary (cmd/s2sengine).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; used when no logger is supplied.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// EventType enumerates the kinds of events the pipeline publishes to a
// session's event bus topic.
type EventType string

const (
	EventTranscript  EventType = "TRANSCRIPT"
	EventTranslation EventType = "TRANSLATION"
	EventTTSChunk    EventType = "TTS_CHUNK"
	EventBoundary    EventType = "BOUNDARY"
	EventError       EventType = "ERROR"
	// EventEmotion carries one utterance's emotion-analysis result. The
	// original publishes this to a dedicated global "Emotion" topic
	// (bootstrap.rs's EventTopic); here it rides the same session-scoped
	// topic as every other pipeline event, distinguished by Type, since a
	// second parallel topic model would fragment subscribers for no
	// benefit once every event already carries SessionID.
	EventEmotion EventType = "EMOTION"
)

// PipelineEvent is the payload published on a session's topic.
type PipelineEvent struct {
	Type      EventType
	SessionID string
	Data      interface{}
}

// Config bundles the per-engine-instance tunables that are not
// per-session (those live on Session): sample rate, buffer ceilings,
// max sentence length, comma splitting, similarity threshold.
type Config struct {
	SampleRate           int
	MaxBufferMs          int // audiobuf hard ceiling (spec.md §4.2)
	MinSegmentDurationMs int
	MaxSentenceLength    int
	SplitOnComma         bool
	SpeakerSimilarity    float32
	DefaultVoiceName     string
}

// DefaultConfig returns the spec.md-recommended defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		MaxBufferMs:          5000,
		MinSegmentDurationMs: 250,
		MaxSentenceLength:    60,
		SplitOnComma:         true,
		SpeakerSimilarity:    0.6,
		DefaultVoiceName:     "default_speaker",
	}
}

// Session holds the per-connection state that survives across
// utterance boundaries: language pair, speaker mode, and the
// per-connection speaker registry partition.
type Session struct {
	mu sync.RWMutex

	ID             string
	SourceLanguage string
	TargetLanguage string
	SpeakerMode    speaker.Mode

	registry *speaker.Registry
}

// NewSession creates a Session with its own speaker registry.
func NewSession(id, sourceLanguage, targetLanguage string) *Session {
	return &Session{
		ID:             id,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		SpeakerMode:    speaker.ModeMultiUser,
		registry:       speaker.NewRegistry(),
	}
}

// Registry returns the session's speaker registry.
func (s *Session) Registry() *speaker.Registry {
	return s.registry
}

// Languages returns the current source/target language pair.
func (s *Session) Languages() (source, target string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SourceLanguage, s.TargetLanguage
}

// SetLanguages updates the session's language pair.
func (s *Session) SetLanguages(source, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SourceLanguage = source
	s.TargetLanguage = target
}

// SetSpeakerMode switches the session's speaker registry mode without
// discarding the inactive mode's data (see pkg/speaker.Registry.SetMode).
func (s *Session) SetSpeakerMode(mode speaker.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakerMode = mode
	s.registry.SetMode(mode)
}
