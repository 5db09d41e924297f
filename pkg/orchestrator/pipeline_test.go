package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/emotion"
	"github.com/lingua-s2s/s2s-engine/pkg/eventbus"
	"github.com/lingua-s2s/s2s-engine/pkg/persona"
	"github.com/lingua-s2s/s2s-engine/pkg/speaker"
	"github.com/lingua-s2s/s2s-engine/pkg/tts"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
	"github.com/lingua-s2s/s2s-engine/pkg/vad"
)

type fakeASRClient struct {
	text string
}

func (f *fakeASRClient) SetLanguage(string) error { return nil }
func (f *fakeASRClient) Transcribe(context.Context, []byte, int, string, string) (string, error) {
	return f.text, nil
}

type fakeEmbeddingClient struct{}

func (fakeEmbeddingClient) ExtractEmbedding(context.Context, []float32, int) ([]float32, types.Gender, bool, error) {
	return nil, types.GenderFemale, true, nil
}

type fakeNMTClient struct {
	prefix string
}

func (f *fakeNMTClient) Translate(_ context.Context, req types.TranslationRequest) (types.TranslationResponse, error) {
	return types.TranslationResponse{TranslatedText: f.prefix + req.Text, IsStable: true}, nil
}

type fakeTTSEngine struct{}

func (fakeTTSEngine) Name() string { return "fake" }
func (fakeTTSEngine) StreamSynthesize(_ context.Context, req tts.SynthesisRequest, onChunk func([]byte) error) error {
	return onChunk([]byte(req.Text))
}

func newTestOrchestrator(t *testing.T, asrText, nmtPrefix string) (*Orchestrator, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	synth := tts.NewSynthesizer(fakeTTSEngine{}, nil, 16000, nil, nil)
	o := New(
		&fakeASRClient{text: asrText},
		fakeEmbeddingClient{},
		&fakeNMTClient{prefix: nmtPrefix},
		synth,
		func() (vad.InferenceEngine, error) { return vad.NewRMSEnergyEngine(), nil },
		vad.DefaultConfig(),
		bus,
		DefaultConfig(),
		nil,
		nil,
		nil,
		"",
	)
	return o, bus
}

func speechFrame(ts uint64) types.AudioFrame {
	data := make([]float32, 160)
	for i := range data {
		data[i] = 0.5
	}
	return types.AudioFrame{SampleRate: 16000, Data: data, TimestampMs: ts}
}

func TestPipelineStreamPublishesTTSChunkOnBoundary(t *testing.T) {
	o, bus := newTestOrchestrator(t, "Hello there.", "ZH:")
	session := NewSession("sess-1", "en", "zh")
	ps, err := o.NewPipelineStream(context.Background(), session)
	require.NoError(t, err)
	defer ps.Close()

	events, unsubscribe := bus.Subscribe(session.ID)
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		require.NoError(t, ps.WriteFrame(speechFrame(uint64(i*10))))
	}
	final := speechFrame(uint64(999))
	final.Final = true
	require.NoError(t, ps.WriteFrame(final))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			pe, ok := ev.Payload.(PipelineEvent)
			require.True(t, ok)
			if pe.Type != EventTTSChunk {
				continue
			}
			chunk, ok := pe.Data.(types.TtsStreamChunk)
			require.True(t, ok)
			assert.NotEmpty(t, chunk.Audio)
			assert.True(t, chunk.IsLast)
			return
		case <-deadline:
			t.Fatal("expected a tts chunk event")
		}
	}
}

func TestPipelineStreamSkipsMeaninglessTranscript(t *testing.T) {
	o, bus := newTestOrchestrator(t, "um", "ZH:")
	session := NewSession("sess-2", "en", "zh")
	ps, err := o.NewPipelineStream(context.Background(), session)
	require.NoError(t, err)
	defer ps.Close()

	events, unsubscribe := bus.Subscribe(session.ID)
	defer unsubscribe()

	final := speechFrame(1)
	final.Final = true
	require.NoError(t, ps.WriteFrame(final))

	select {
	case ev := <-events:
		t.Fatalf("expected no event for meaningless transcript, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionSpeakerModeSwitchPreservesRegistry(t *testing.T) {
	s := NewSession("sess-3", "en", "zh")
	s.Registry().SetMode(speaker.ModeSingleUser)
	assert.Equal(t, speaker.ModeSingleUser, s.Registry().Mode())
	s.SetSpeakerMode(speaker.ModeMultiUser)
	assert.Equal(t, speaker.ModeMultiUser, s.Registry().Mode())
}

// fixedEmotionEngine always scores the same label, isolating the
// orchestrator wiring under test from classification logic itself
// (covered separately in pkg/emotion).
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

func TestPipelineStreamPublishesEmotionAndAppliesPersona(t *testing.T) {
	bus := eventbus.New()
	synth := tts.NewSynthesizer(fakeTTSEngine{}, nil, 16000, nil, nil)
	o := New(
		&fakeASRClient{text: "I don't think that's right."},
		fakeEmbeddingClient{},
		&fakeNMTClient{prefix: "ZH:"},
		synth,
		func() (vad.InferenceEngine, error) { return vad.NewRMSEnergyEngine(), nil },
		vad.DefaultConfig(),
		bus,
		DefaultConfig(),
		nil,
		emotion.New(fixedEmotionEngine{label: "anger"}),
		persona.NewDefaultPersonalizer(),
		"formal",
	)

	session := NewSession("sess-emotion", "en", "zh")
	ps, err := o.NewPipelineStream(context.Background(), session)
	require.NoError(t, err)
	defer ps.Close()

	events, unsubscribe := bus.Subscribe(session.ID)
	defer unsubscribe()

	final := speechFrame(1)
	final.Final = true
	require.NoError(t, ps.WriteFrame(final))

	var sawEmotion, sawTranscript bool
	deadline := time.After(2 * time.Second)
	for !sawEmotion || !sawTranscript {
		select {
		case ev := <-events:
			pe, ok := ev.Payload.(PipelineEvent)
			require.True(t, ok)
			switch pe.Type {
			case EventEmotion:
				res, ok := pe.Data.(emotion.Result)
				require.True(t, ok)
				assert.Equal(t, "anger", res.Primary)
				sawEmotion = true
			case EventTranscript:
				text, ok := pe.Data.(string)
				require.True(t, ok)
				// persona's formal-tone rewrite must have already run
				// before this publishes.
				assert.Equal(t, "I do not think that is right.", text)
				sawTranscript = true
			}
		case <-deadline:
			t.Fatal("expected both an emotion and a (persona-rewritten) transcript event")
		}
	}
}

func TestDefaultVoiceForDeclinedExtraction(t *testing.T) {
	r := types.SpeakerIdentificationResult{EstimatedGender: types.GenderMale}
	assert.Equal(t, "default_male", defaultVoiceFor(r, "configured"))

	r2 := types.SpeakerIdentificationResult{VoiceEmbedding: []float32{0.1}}
	assert.Equal(t, "", defaultVoiceFor(r2, "configured"))
}
