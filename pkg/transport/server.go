package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
	"github.com/lingua-s2s/s2s-engine/pkg/orchestrator"
	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Logger is the minimal logging seam used by Server.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

// HealthCheck probes one dependency and returns nil when reachable.
type HealthCheck func(ctx context.Context) error

// Server exposes the WebSocket and HTTP surfaces of spec.md §6 over an
// Orchestrator. It tracks active sessions so POST /config/speaker-mode can
// apply to already-connected sessions, not just new ones.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger Logger

	defaultSourceLang string
	defaultTargetLang string

	healthChecks map[string]HealthCheck

	mu           sync.Mutex
	sessions     map[string]*orchestrator.Session
	speakerMode  speaker.Mode
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger sets the Server's logger.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealthChecks registers named dependency health probes.
func WithHealthChecks(checks map[string]HealthCheck) Option {
	return func(s *Server) { s.healthChecks = checks }
}

// NewServer creates a Server over orch with the given default language
// pair, applied to sessions that never send a "config" message.
func NewServer(orch *orchestrator.Orchestrator, defaultSourceLang, defaultTargetLang string, opts ...Option) *Server {
	s := &Server{
		orch:              orch,
		logger:            noopLogger{},
		defaultSourceLang: defaultSourceLang,
		defaultTargetLang: defaultTargetLang,
		healthChecks:      map[string]HealthCheck{},
		sessions:          make(map[string]*orchestrator.Session),
		speakerMode:       speaker.ModeMultiUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the http.Handler implementing every route in spec.md §6.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/s2s", s.handleS2S)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/config/speaker-mode", s.handleSpeakerMode)
	return mux
}

func (s *Server) registerSession(session *orchestrator.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) unregisterSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	sessionID := uuid.NewString()

	s.mu.Lock()
	mode := s.speakerMode
	s.mu.Unlock()

	session := orchestrator.NewSession(sessionID, s.defaultSourceLang, s.defaultTargetLang)
	session.SetSpeakerMode(mode)
	s.registerSession(session)
	defer s.unregisterSession(sessionID)

	stream, err := s.orch.NewPipelineStream(ctx, session)
	if err != nil {
		s.logger.Error("failed to create pipeline stream", "error", err)
		conn.Close(websocket.StatusInternalError, "pipeline init failed")
		return
	}
	defer stream.Close()

	events, unsubscribe := stream.Events()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forwardEvents(ctx, conn, events)
	}()

	s.readLoop(ctx, conn, session, stream)

	conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *orchestrator.Session, stream *orchestrator.PipelineStream) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid client message", "error", err)
			continue
		}

		switch msg.Type {
		case "config":
			src, tgt := session.Languages()
			if msg.SrcLang != "" {
				src = msg.SrcLang
			}
			if msg.TgtLang != "" {
				tgt = msg.TgtLang
			}
			session.SetLanguages(src, tgt)

		case "audio_frame":
			raw, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.logger.Warn("invalid audio_frame payload", "error", err)
				continue
			}
			sampleRate := msg.SampleRate
			if sampleRate == 0 {
				sampleRate = 16000
			}
			channels := msg.Channels
			if channels == 0 {
				channels = 1
			}
			samples := NormalizeToMono16k(raw, sampleRate, channels)
			frame := types.AudioFrame{
				SampleRate:  16000,
				Channels:    1,
				Data:        samples,
				TimestampMs: msg.TimestampMs,
			}
			if err := stream.WriteFrame(frame); err != nil {
				s.logger.Warn("write frame failed", "error", err)
			}
		}
	}
}

func (s *Server) forwardEvents(ctx context.Context, conn *websocket.Conn, events <-chan eventbus.CoreEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			pe, ok := ev.Payload.(orchestrator.PipelineEvent)
			if !ok {
				continue
			}
			out := toServerMessage(pe)
			payload, err := json.Marshal(out)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func toServerMessage(pe orchestrator.PipelineEvent) ServerMessage {
	switch pe.Type {
	case orchestrator.EventTTSChunk:
		chunk, _ := pe.Data.(types.TtsStreamChunk)
		return ServerMessage{
			Type:        "tts_chunk",
			Audio:       base64.StdEncoding.EncodeToString(chunk.Audio),
			TimestampMs: chunk.TimestampMs,
			IsLast:      chunk.IsLast,
		}
	case orchestrator.EventTranscript:
		text, _ := pe.Data.(string)
		return ServerMessage{Type: "transcript", Transcript: text}
	case orchestrator.EventTranslation:
		text, _ := pe.Data.(string)
		return ServerMessage{Type: "translation", Translation: text}
	case orchestrator.EventEmotion:
		res, _ := pe.Data.(emotion.Result)
		return ServerMessage{
			Type:              "emotion",
			Emotion:           res.Primary,
			EmotionIntensity:  res.Intensity,
			EmotionConfidence: res.Confidence,
		}
	case orchestrator.EventError:
		msg, _ := pe.Data.(string)
		return ServerMessage{Type: "error", Transcript: msg}
	default:
		return ServerMessage{Type: string(pe.Type)}
	}
}

func (s *Server) handleS2S(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req S2SRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wavBytes, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		http.Error(w, "invalid base64 audio", http.StatusBadRequest)
		return
	}
	pcm, sampleRate, channels, err := ParseWAV(wavBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	samples := NormalizeToMono16k(pcm, sampleRate, channels)

	sessionID := uuid.NewString()
	session := orchestrator.NewSession(sessionID, req.SrcLang, req.TgtLang)

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	stream, err := s.orch.NewPipelineStream(ctx, session)
	if err != nil {
		http.Error(w, "pipeline init failed", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	events, unsubscribe := stream.Events()
	defer unsubscribe()

	frame := types.AudioFrame{SampleRate: 16000, Channels: 1, Data: samples, Final: true}
	if err := stream.WriteFrame(frame); err != nil {
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	// Collect every event this utterance publishes: one EventTranscript,
	// one EventTranslation+EventTTSChunk pair per sentence segment, until
	// the last chunk's IsLast closes the utterance out. A multi-sentence
	// transcript otherwise loses every segment but the first.
	var transcriptText, translationText, emotionLabel string
	var pcm []byte

collectLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break collectLoop
			}
			pe, ok := ev.Payload.(orchestrator.PipelineEvent)
			if !ok {
				continue
			}
			switch pe.Type {
			case orchestrator.EventTranscript:
				transcriptText, _ = pe.Data.(string)
			case orchestrator.EventTranslation:
				text, _ := pe.Data.(string)
				if text == "" {
					continue
				}
				if translationText != "" {
					translationText += " "
				}
				translationText += text
			case orchestrator.EventEmotion:
				if res, ok := pe.Data.(emotion.Result); ok {
					emotionLabel = res.Primary
				}
			case orchestrator.EventTTSChunk:
				chunk, _ := pe.Data.(types.TtsStreamChunk)
				if segPCM, _, _, err := ParseWAV(chunk.Audio); err == nil {
					pcm = append(pcm, segPCM...)
				}
				if chunk.IsLast {
					break collectLoop
				}
			case orchestrator.EventError:
				msg, _ := pe.Data.(string)
				http.Error(w, msg, http.StatusInternalServerError)
				return
			}
		case <-ctx.Done():
			http.Error(w, "timed out waiting for synthesis", http.StatusGatewayTimeout)
			return
		}
	}

	resp := S2SResponse{
		Audio:       base64.StdEncoding.EncodeToString(tts.WrapWAV(pcm, 16000)),
		Transcript:  transcriptText,
		Translation: translationText,
		// Emotion analysis runs fire-and-forget alongside translation/TTS
		// (mirroring the original's analyze_emotion().ok()), so it is
		// best-effort here: present when it lands before the last chunk,
		// empty otherwise.
		Emotion: emotionLabel,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]bool, len(s.healthChecks))
	ok := true
	for name, check := range s.healthChecks {
		healthy := check(ctx) == nil
		deps[name] = healthy
		if !healthy {
			ok = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(HealthResponse{OK: ok, Dependencies: deps})
}

func (s *Server) handleSpeakerMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		mode := s.speakerMode
		s.mu.Unlock()
		writeSpeakerMode(w, mode)

	case http.MethodPost:
		var req SpeakerModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		var mode speaker.Mode
		switch req.Mode {
		case "single_user":
			mode = speaker.ModeSingleUser
		case "multi_user":
			mode = speaker.ModeMultiUser
		default:
			http.Error(w, "mode must be single_user or multi_user", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.speakerMode = mode
		sessions := make([]*orchestrator.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		for _, sess := range sessions {
			sess.SetSpeakerMode(mode)
		}

		writeSpeakerMode(w, mode)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeSpeakerMode(w http.ResponseWriter, mode speaker.Mode) {
	name := "multi_user"
	if mode == speaker.ModeSingleUser {
		name = "single_user"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SpeakerModeResponse{Mode: name})
}
