// Package tts implements TTS streaming with priority-chain voice
// selection and language-unsupported fallback per spec.md §4.6. The
// persistent-websocket streaming shape (lazy-dial, write request,
// read binary chunks until a text "EOS"/"ERR:" sentinel) is adapted
// from the teacher's pkg/providers/tts/lokutor.go, generalized from a
// single engine into a primary/fallback pair.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// SynthesisRequest carries the priority-ordered voice selectors of
// spec.md §4.6 plus the cross-language-converted speech rate.
type SynthesisRequest struct {
	Text string

	SpeakerID      string  // priority 1
	ReferenceAudio []byte  // priority 2 (with VoiceEmbedding)
	VoiceEmbedding []float32
	DefaultVoiceName string // priority 3, gender-keyed
	ConfiguredDefaultVoice string // priority 4

	Language   string
	SpeechRate float64 // chars/sec, already cross-language converted
}

// languageUnsupportedSubstrings are matched case-insensitively against an
// engine error message to decide whether to retry on the fallback engine.
var languageUnsupportedSubstrings = []string{
	"language",
	"does not support chinese",
	"dict_keys",
	"dimension out of range",
}

// IsLanguageUnsupportedError reports whether err looks like a
// language-unsupported rejection from the TTS engine (spec.md §4.6).
func IsLanguageUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range languageUnsupportedSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Engine streams synthesized PCM16 chunks for one request. Implementations
// must be safe for concurrent use by multiple in-flight requests.
type Engine interface {
	StreamSynthesize(ctx context.Context, req SynthesisRequest, onChunk func([]byte) error) error
	Name() string
}

// WebsocketEngine is the default Engine, streaming over a persistent
// websocket connection shared across requests, following lokutor.go's
// lazy-dial-and-reuse pattern.
type WebsocketEngine struct {
	name     string
	endpoint string
	apiKey   string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketEngine creates a WebsocketEngine. endpoint is a full
// "wss://host/path" URL; apiKey is appended as a query parameter.
func NewWebsocketEngine(name, endpoint, apiKey string) *WebsocketEngine {
	return &WebsocketEngine{name: name, endpoint: endpoint, apiKey: apiKey}
}

func (e *WebsocketEngine) Name() string { return e.name }

func (e *WebsocketEngine) getConn(ctx context.Context) (*websocket.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn, nil
	}

	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("tts: invalid endpoint: %w", err)
	}
	if e.apiKey != "" {
		q := u.Query()
		q.Set("api_key", e.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTTSUnreachable, err)
	}
	e.conn = conn
	return conn, nil
}

func (e *WebsocketEngine) StreamSynthesize(ctx context.Context, req SynthesisRequest, onChunk func([]byte) error) error {
	conn, err := e.getConn(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	voice := req.DefaultVoiceName
	if voice == "" {
		voice = req.ConfiguredDefaultVoice
	}

	payload := map[string]interface{}{
		"text":        req.Text,
		"lang":        req.Language,
		"speech_rate": req.SpeechRate,
	}
	if req.SpeakerID != "" {
		payload["speaker_id"] = req.SpeakerID
	} else if len(req.ReferenceAudio) > 0 {
		payload["reference_audio"] = req.ReferenceAudio
		if len(req.VoiceEmbedding) > 0 {
			payload["voice_embedding"] = req.VoiceEmbedding
		}
	} else if voice != "" {
		payload["voice"] = voice
	}

	if err := wsjson.Write(ctx, conn, payload); err != nil {
		e.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("tts: send synthesis request: %w", err)
	}

	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			e.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("%w: %v", apperr.ErrTTSUnreachable, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(data); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(data)
			if msg == "EOS" {
				return nil
			}
			if strings.HasPrefix(msg, "ERR:") {
				return fmt.Errorf("tts: engine error: %s", msg)
			}
		}
	}
}

// Close releases the underlying connection, if any.
func (e *WebsocketEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		err := e.conn.Close(websocket.StatusNormalClosure, "")
		e.conn = nil
		return err
	}
	return nil
}

// RegisterFunc posts reference audio to the engine's register endpoint so
// future synthesis can be keyed by speaker_id alone. Implementations are
// expected to be non-blocking best-effort; failures are logged and
// otherwise ignored by Synthesizer.RegisterSpeakerAsync.
type RegisterFunc func(ctx context.Context, speakerID string, referenceAudio []byte) error

// MaterialUpdateSamples is the ~10s-at-16kHz threshold at or past which fresh
// reference audio triggers a re-registration even for a known speaker.
const MaterialUpdateSamples = 10 * 16000

// Synthesizer owns the primary/fallback engine pair and best-effort
// speaker registration.
type Synthesizer struct {
	primary  Engine
	fallback Engine
	register RegisterFunc

	sampleRate int
	logf       func(format string, args ...any)
}

// NewSynthesizer creates a Synthesizer. fallback and register may be nil.
func NewSynthesizer(primary, fallback Engine, sampleRate int, register RegisterFunc, logf func(string, ...any)) *Synthesizer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Synthesizer{primary: primary, fallback: fallback, register: register, sampleRate: sampleRate, logf: logf}
}

// Synthesize runs the priority-chain request against the primary engine,
// retrying on the fallback engine (selectors cleared, speech_rate kept)
// when the primary reports a language-unsupported error.
func (s *Synthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (types.TtsStreamChunk, error) {
	var pcm []byte
	collect := func(chunk []byte) error {
		pcm = append(pcm, chunk...)
		return nil
	}

	err := s.primary.StreamSynthesize(ctx, req, collect)
	if err != nil && IsLanguageUnsupportedError(err) && s.fallback != nil {
		s.logf("tts: primary engine %s rejected language, falling back to %s", s.primary.Name(), s.fallback.Name())
		fallbackReq := req
		fallbackReq.SpeakerID = ""
		fallbackReq.ReferenceAudio = nil
		fallbackReq.VoiceEmbedding = nil
		pcm = nil
		err = s.fallback.StreamSynthesize(ctx, fallbackReq, collect)
	}
	if err != nil {
		return types.TtsStreamChunk{}, err
	}

	return types.TtsStreamChunk{Audio: WrapWAV(pcm, s.sampleRate)}, nil
}

// RegisterSpeakerAsync fires a background, non-blocking registration of
// referenceAudio under speakerID. A failure is logged and never affects
// synthesis in progress (spec.md §4.6).
func (s *Synthesizer) RegisterSpeakerAsync(speakerID string, referenceAudio []byte) {
	if s.register == nil || speakerID == "" || len(referenceAudio) == 0 {
		return
	}
	go func() {
		ctx := context.Background()
		if err := s.register(ctx, speakerID, referenceAudio); err != nil {
			s.logf("tts: background speaker registration failed for %s: %v", speakerID, err)
		}
	}()
}

// ShouldReregister reports whether newAudioSamples reaches the material
// update threshold, warranting re-registration even for a known speaker.
func ShouldReregister(newAudioSamples int) bool {
	return newAudioSamples >= MaterialUpdateSamples
}

// ConvertSpeechRate applies spec.md §4.8's cross-language speech-rate
// conversion before passing the rate to TTS.
func ConvertSpeechRate(rate float64, sourceLang, targetLang string) float64 {
	switch {
	case sourceLang == "en" && targetLang == "zh":
		return rate / 2.5
	case sourceLang == "zh" && targetLang == "en":
		return rate * 1.5
	default:
		return rate
	}
}
