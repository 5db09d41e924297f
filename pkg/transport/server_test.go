package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
	"github.com/lingua-s2s/s2s-engine/pkg/orchestrator"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
	"github.com/lingua-s2s/s2s-engine/pkg/vad"
)

type fakeASRClient struct{ text string }

func (f *fakeASRClient) SetLanguage(string) error { return nil }
func (f *fakeASRClient) Transcribe(context.Context, []byte, int, string, string) (string, error) {
	return f.text, nil
}

type fakeEmbeddingClient struct{}

func (fakeEmbeddingClient) ExtractEmbedding(context.Context, []float32, int) ([]float32, types.Gender, bool, error) {
	return nil, types.GenderFemale, true, nil
}

type fakeNMTClient struct{ prefix string }

func (f *fakeNMTClient) Translate(_ context.Context, req types.TranslationRequest) (types.TranslationResponse, error) {
	return types.TranslationResponse{TranslatedText: f.prefix + req.Text, IsStable: true}, nil
}

type fakeTTSEngine struct{}

func (fakeTTSEngine) Name() string { return "fake" }
func (fakeTTSEngine) StreamSynthesize(_ context.Context, req tts.SynthesisRequest, onChunk func([]byte) error) error {
	return onChunk([]byte(req.Text))
}

func newTestServer(t *testing.T, asrText, nmtPrefix string) *httptest.Server {
	t.Helper()
	bus := eventbus.New()
	synth := tts.NewSynthesizer(fakeTTSEngine{}, nil, 16000, nil, nil)
	orch := orchestrator.New(
		&fakeASRClient{text: asrText},
		fakeEmbeddingClient{},
		&fakeNMTClient{prefix: nmtPrefix},
		synth,
		func() (vad.InferenceEngine, error) { return vad.NewRMSEnergyEngine(), nil },
		vad.DefaultConfig(),
		bus,
		orchestrator.DefaultConfig(),
		nil,
		nil,
		nil,
		"",
	)
	srv := NewServer(orch, "en", "zh", WithHealthChecks(map[string]HealthCheck{
		"nmt": func(context.Context) error { return nil },
	}))
	return httptest.NewServer(srv.Handler())
}

// fixedEmotionEngine always reports the same label regardless of input,
// isolating the transport wiring from emotion classification itself.
type fixedEmotionEngine struct{ label string }

func (f fixedEmotionEngine) Classify(context.Context, string) ([]float32, error) {
	logits := make([]float32, len(emotion.CanonicalLabels))
	for i, l := range emotion.CanonicalLabels {
		if l == f.label {
			logits[i] = 10
		}
	}
	return logits, nil
}
func (f fixedEmotionEngine) Labels() []string { return emotion.CanonicalLabels }
func (f fixedEmotionEngine) Close() error     { return nil }

func newTestServerWithEmotion(t *testing.T, asrText, nmtPrefix, emotionLabel string) *httptest.Server {
	t.Helper()
	bus := eventbus.New()
	synth := tts.NewSynthesizer(fakeTTSEngine{}, nil, 16000, nil, nil)
	orch := orchestrator.New(
		&fakeASRClient{text: asrText},
		fakeEmbeddingClient{},
		&fakeNMTClient{prefix: nmtPrefix},
		synth,
		func() (vad.InferenceEngine, error) { return vad.NewRMSEnergyEngine(), nil },
		vad.DefaultConfig(),
		bus,
		orchestrator.DefaultConfig(),
		nil,
		emotion.New(fixedEmotionEngine{label: emotionLabel}),
		nil,
		"",
	)
	srv := NewServer(orch, "en", "zh", WithHealthChecks(map[string]HealthCheck{
		"nmt": func(context.Context) error { return nil },
	}))
	return httptest.NewServer(srv.Handler())
}

func speechFrameBytes(n int) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5
	}
	return EncodePCM16LE(samples)
}

func TestHandleWebSocketStreamsTranscriptionAudio(t *testing.T) {
	server := newTestServer(t, "Hello there.", "ZH:")
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	cfgMsg, err := json.Marshal(ClientMessage{Type: "config", SrcLang: "en", TgtLang: "zh"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, cfgMsg))

	data := speechFrameBytes(160)
	frameMsg, err := json.Marshal(ClientMessage{
		Type:        "audio_frame",
		Data:        base64.StdEncoding.EncodeToString(data),
		TimestampMs: 1,
		SampleRate:  16000,
		Channels:    1,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frameMsg))

	// Two silent frames 601 ms apart close the utterance by the natural-pause
	// rule (default effective threshold 500 ms); their 300 ms of samples each
	// also lift the buffer past the 250 ms minimum segment duration.
	for _, ts := range []uint64{999, 1600} {
		silenceMsg, err := json.Marshal(ClientMessage{
			Type:        "audio_frame",
			Data:        base64.StdEncoding.EncodeToString(make([]byte, 9600)),
			TimestampMs: ts,
			SampleRate:  16000,
			Channels:    1,
		})
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, silenceMsg))
	}

	var sawTranscript bool
	var chunk ServerMessage
	for {
		_, raw, err := conn.Read(ctx)
		require.NoError(t, err)
		var out ServerMessage
		require.NoError(t, json.Unmarshal(raw, &out))
		if out.Type == "transcript" {
			sawTranscript = true
			continue
		}
		if out.Type == "tts_chunk" {
			chunk = out
			break
		}
	}
	assert.True(t, sawTranscript)
	assert.NotEmpty(t, chunk.Audio)
}

func TestHandleWebSocketEmitsEmotion(t *testing.T) {
	server := newTestServerWithEmotion(t, "This is wonderful news!", "ZH:", "joy")
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	cfgMsg, err := json.Marshal(ClientMessage{Type: "config", SrcLang: "en", TgtLang: "zh"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, cfgMsg))

	data := speechFrameBytes(160)
	frameMsg, err := json.Marshal(ClientMessage{
		Type:        "audio_frame",
		Data:        base64.StdEncoding.EncodeToString(data),
		TimestampMs: 1,
		SampleRate:  16000,
		Channels:    1,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frameMsg))

	// Two silent frames 601 ms apart close the utterance by the natural-pause
	// rule; see TestHandleWebSocketStreamsTranscriptionAudio.
	for _, ts := range []uint64{999, 1600} {
		silenceMsg, err := json.Marshal(ClientMessage{
			Type:        "audio_frame",
			Data:        base64.StdEncoding.EncodeToString(make([]byte, 9600)),
			TimestampMs: ts,
			SampleRate:  16000,
			Channels:    1,
		})
		require.NoError(t, err)
		require.NoError(t, conn.Write(ctx, websocket.MessageText, silenceMsg))
	}

	var sawEmotion ServerMessage
	for {
		_, raw, err := conn.Read(ctx)
		require.NoError(t, err)
		var out ServerMessage
		require.NoError(t, json.Unmarshal(raw, &out))
		if out.Type == "emotion" {
			sawEmotion = out
			break
		}
	}
	assert.Equal(t, "joy", sawEmotion.Emotion)
	assert.Greater(t, sawEmotion.EmotionConfidence, float32(0))
}

func TestHandleS2SOneShot(t *testing.T) {
	server := newTestServer(t, "Hello there.", "ZH:")
	defer server.Close()

	wav := wrapTestWAV(speechFrameBytes(1600), 16000)
	reqBody := S2SRequest{
		Audio:   base64.StdEncoding.EncodeToString(wav),
		SrcLang: "en",
		TgtLang: "zh",
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/s2s", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out S2SResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Audio)
	assert.Equal(t, "Hello there.", out.Transcript)
	assert.Equal(t, "ZH:Hello there.", out.Translation)
}

func TestHandleS2SMultiSentence(t *testing.T) {
	server := newTestServer(t, "Hello there. How are you?", "ZH:")
	defer server.Close()

	wav := wrapTestWAV(speechFrameBytes(1600), 16000)
	reqBody := S2SRequest{
		Audio:   base64.StdEncoding.EncodeToString(wav),
		SrcLang: "en",
		TgtLang: "zh",
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	resp, err := http.Post(server.URL+"/s2s", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out S2SResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Audio)
	assert.Equal(t, "Hello there. How are you?", out.Transcript)
	// Both sentence segments must survive into the combined translation,
	// not just the first (the bug this test guards against).
	assert.Contains(t, out.Translation, "Hello there.")
	assert.Contains(t, out.Translation, "How are you?")
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, "hi", "ZH:")
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.OK)
	assert.True(t, out.Dependencies["nmt"])
}

func TestHandleSpeakerModeGetAndSet(t *testing.T) {
	server := newTestServer(t, "hi", "ZH:")
	defer server.Close()

	resp, err := http.Get(server.URL + "/config/speaker-mode")
	require.NoError(t, err)
	var out SpeakerModeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, "multi_user", out.Mode)

	body, err := json.Marshal(SpeakerModeRequest{Mode: "single_user"})
	require.NoError(t, err)
	resp2, err := http.Post(server.URL+"/config/speaker-mode", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var out2 SpeakerModeResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out2))
	assert.Equal(t, "single_user", out2.Mode)
}

// wrapTestWAV builds a minimal PCM16 mono WAV container for test fixtures,
// independent of pkg/tts.WrapWAV to keep this test package self-contained.
func wrapTestWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	dataLen := len(pcm)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}
