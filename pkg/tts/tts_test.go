package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	name      string
	err       error
	chunks    [][]byte
	lastReq   SynthesisRequest
	callCount int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) StreamSynthesize(_ context.Context, req SynthesisRequest, onChunk func([]byte) error) error {
	f.callCount++
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func TestSynthesizeUsesPrimaryOnSuccess(t *testing.T) {
	primary := &fakeEngine{name: "primary", chunks: [][]byte{{1, 2}, {3, 4}}}
	s := NewSynthesizer(primary, nil, 16000, nil, nil)

	chunk, err := s.Synthesize(context.Background(), SynthesisRequest{Text: "hi", SpeakerID: "speaker_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.callCount)
	assert.NotEmpty(t, chunk.Audio)
	assert.Equal(t, "RIFF", string(chunk.Audio[:4]))
}

func TestSynthesizeFallsBackOnLanguageUnsupported(t *testing.T) {
	primary := &fakeEngine{name: "primary", err: errors.New("engine does not support chinese")}
	fallback := &fakeEngine{name: "fallback", chunks: [][]byte{{9}}}
	s := NewSynthesizer(primary, fallback, 16000, nil, nil)

	req := SynthesisRequest{Text: "hi", SpeakerID: "speaker_1", ReferenceAudio: []byte{1}, VoiceEmbedding: []float32{0.1}, SpeechRate: 4.2}
	_, err := s.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, fallback.callCount)
	assert.Empty(t, fallback.lastReq.SpeakerID)
	assert.Empty(t, fallback.lastReq.ReferenceAudio)
	assert.Empty(t, fallback.lastReq.VoiceEmbedding)
	assert.Equal(t, 4.2, fallback.lastReq.SpeechRate)
}

func TestSynthesizeNoFallbackPropagatesError(t *testing.T) {
	primary := &fakeEngine{name: "primary", err: errors.New("dict_keys error")}
	s := NewSynthesizer(primary, nil, 16000, nil, nil)

	_, err := s.Synthesize(context.Background(), SynthesisRequest{Text: "hi"})
	assert.Error(t, err)
}

func TestIsLanguageUnsupportedError(t *testing.T) {
	assert.True(t, IsLanguageUnsupportedError(errors.New("unsupported language requested")))
	assert.True(t, IsLanguageUnsupportedError(errors.New("dimension out of range")))
	assert.False(t, IsLanguageUnsupportedError(errors.New("connection refused")))
	assert.False(t, IsLanguageUnsupportedError(nil))
}

func TestConvertSpeechRate(t *testing.T) {
	assert.InDelta(t, 4.0, ConvertSpeechRate(10, "en", "zh"), 0.001)
	assert.InDelta(t, 15.0, ConvertSpeechRate(10, "zh", "en"), 0.001)
	assert.InDelta(t, 10.0, ConvertSpeechRate(10, "en", "en"), 0.001)
}

func TestShouldReregister(t *testing.T) {
	assert.False(t, ShouldReregister(16000*5))
	assert.True(t, ShouldReregister(16000*10))
}

func TestRegisterSpeakerAsyncDoesNotBlock(t *testing.T) {
	called := make(chan struct{}, 1)
	register := func(_ context.Context, speakerID string, _ []byte) error {
		called <- struct{}{}
		return nil
	}
	s := NewSynthesizer(&fakeEngine{name: "p"}, nil, 16000, register, nil)
	s.RegisterSpeakerAsync("speaker_1", []byte{1, 2, 3})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected register to eventually be invoked")
	}
}
