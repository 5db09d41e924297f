package audiobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

func frame(ms float64) types.AudioFrame {
	// 16kHz samples -> ms*16 samples gives ms milliseconds of audio.
	n := int(ms * 16)
	return types.AudioFrame{SampleRate: 16000, Channels: 1, Data: make([]float32, n)}
}

func TestPushFrameConsumesExactlyWhatWasPushed(t *testing.T) {
	b := New(5000, 200)
	require.NoError(t, b.PushFrame(frame(100)))
	require.NoError(t, b.PushFrame(frame(100)))

	taken := b.TakeCurrentBuffer()
	assert.Len(t, taken, 2)
	assert.Equal(t, float64(0), b.DurationMs())
}

func TestOverflowForcesBoundary(t *testing.T) {
	b := New(500, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.PushFrame(frame(100)))
	}
	err := b.PushFrame(frame(100))
	assert.ErrorIs(t, err, apperr.ErrBufferOverflow)
}

func TestSwapRetainsCarryOverFrame(t *testing.T) {
	b := New(500, 100)
	require.NoError(t, b.PushFrame(frame(100)))

	overflowFrame := frame(100)
	taken := b.SwapBuffers([]types.AudioFrame{overflowFrame})

	assert.Len(t, taken, 1)
	assert.Equal(t, float64(100), b.DurationMs())
}

func TestMinDurationGate(t *testing.T) {
	b := New(5000, 200)
	require.NoError(t, b.PushFrame(frame(100)))
	assert.False(t, b.CheckMinDuration())

	require.NoError(t, b.PushFrame(frame(150)))
	assert.True(t, b.CheckMinDuration())
}
