package transport

// ClientMessage is a client->server WebSocket JSON envelope (spec.md §6).
type ClientMessage struct {
	Type string `json:"type"`

	// type == "config"
	SrcLang string `json:"src_lang,omitempty"`
	TgtLang string `json:"tgt_lang,omitempty"`

	// type == "audio_frame"
	Data        string `json:"data,omitempty"` // base64 PCM16-LE
	TimestampMs uint64 `json:"timestamp_ms,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
}

// ServerMessage is a server->client WebSocket JSON envelope (spec.md §6).
type ServerMessage struct {
	Type        string `json:"type,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	Translation string `json:"translation,omitempty"`
	Audio       string `json:"audio,omitempty"` // base64 WAV
	TimestampMs uint64 `json:"timestamp_ms,omitempty"`
	IsLast      bool   `json:"is_last,omitempty"`

	// type == "emotion"
	Emotion           string  `json:"emotion,omitempty"`
	EmotionIntensity  float32 `json:"emotion_intensity,omitempty"`
	EmotionConfidence float32 `json:"emotion_confidence,omitempty"`
}

// S2SRequest is the POST /s2s one-shot request body.
type S2SRequest struct {
	Audio   string `json:"audio"` // base64 WAV
	SrcLang string `json:"src_lang"`
	TgtLang string `json:"tgt_lang"`
}

// S2SResponse is the POST /s2s one-shot response body.
type S2SResponse struct {
	Audio       string `json:"audio"`
	Transcript  string `json:"transcript"`
	Translation string `json:"translation"`
	Emotion     string `json:"emotion,omitempty"`
}

// HealthResponse reports per-dependency reachability.
type HealthResponse struct {
	OK           bool            `json:"ok"`
	Dependencies map[string]bool `json:"dependencies"`
}

// SpeakerModeRequest is the POST /config/speaker-mode body.
type SpeakerModeRequest struct {
	Mode string `json:"mode"` // "single_user" | "multi_user"
}

// SpeakerModeResponse echoes the effective mode.
type SpeakerModeResponse struct {
	Mode string `json:"mode"`
}
