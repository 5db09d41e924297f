package asr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

type fakeClient struct {
	text        string
	err         error
	langCalls   []string
	lastContext string
}

func (f *fakeClient) SetLanguage(lang string) error {
	f.langCalls = append(f.langCalls, lang)
	return nil
}

func (f *fakeClient) Transcribe(_ context.Context, _ []byte, _ int, _ string, contextPrompt string) (string, error) {
	f.lastContext = contextPrompt
	return f.text, f.err
}

func TestNormalizeLanguageIdempotent(t *testing.T) {
	for _, in := range []string{"zh-CN", "en-US", "fr", "ZH-tw", ""} {
		once := NormalizeLanguage(in)
		twice := NormalizeLanguage(once)
		assert.Equal(t, once, twice)
	}
	assert.Equal(t, "zh", NormalizeLanguage("zh-CN"))
	assert.Equal(t, "en", NormalizeLanguage("en-US"))
}

func TestLanguageOnlySetWhenChanged(t *testing.T) {
	fc := &fakeClient{text: "hello there"}
	a := New(fc)

	_, err := a.Transcribe(context.Background(), nil, "en-US", 16000)
	require.NoError(t, err)
	_, err = a.Transcribe(context.Background(), nil, "en-GB", 16000)
	require.NoError(t, err)

	assert.Equal(t, []string{"en"}, fc.langCalls)
}

func TestMeaninglessTranscriptFiltered(t *testing.T) {
	fc := &fakeClient{text: "um"}
	a := New(fc)

	_, err := a.Transcribe(context.Background(), nil, "en", 16000)
	assert.ErrorIs(t, err, apperr.ErrMeaninglessTranscript)
}

func TestContextAwareFilterDropsRepeat(t *testing.T) {
	fc := &fakeClient{text: "It works well."}
	a := New(fc)

	_, err := a.Transcribe(context.Background(), nil, "en", 16000)
	require.NoError(t, err)

	fc.text = "It works well."
	_, err = a.Transcribe(context.Background(), nil, "en", 16000)
	assert.ErrorIs(t, err, apperr.ErrMeaninglessTranscript)
}

func TestRollingContextIsSingleSentence(t *testing.T) {
	fc := &fakeClient{text: "First sentence. Second sentence."}
	a := New(fc)

	_, err := a.Transcribe(context.Background(), nil, "en", 16000)
	require.NoError(t, err)

	fc.text = "Third one."
	_, err = a.Transcribe(context.Background(), nil, "en", 16000)
	require.NoError(t, err)

	assert.Equal(t, "Second sentence.", fc.lastContext)
}

func TestFramesToPCM16RoundTripsSampleCount(t *testing.T) {
	frames := []types.AudioFrame{{Data: []float32{0, 0.5, -0.5}}}
	pcm := framesToPCM16(frames)
	assert.Len(t, pcm, 6)
}
