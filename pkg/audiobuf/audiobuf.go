// Package audiobuf implements the bounded, swappable dual-buffer audio
// accumulator of spec.md §4.2: frames accumulate within an utterance while
// a concurrent swap lets a new utterance start accumulating the instant
// the previous one is handed off to the pipeline.
package audiobuf

import (
	"sync"

	"github.com/lingua-s2s/s2s-engine/pkg/apperr"
	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// Buffer accumulates AudioFrames for one session. All operations are
// mutex-protected and held only for O(1) swap/drain operations, per
// spec.md §5's shared-resource model.
type Buffer struct {
	mu sync.Mutex

	frames      []types.AudioFrame
	durationMs  float64
	maxDurationMs float64
	minSegmentDurationMs float64
}

// New creates a Buffer with the given ceiling and minimum-segment
// thresholds, both in milliseconds.
func New(maxDurationMs, minSegmentDurationMs float64) *Buffer {
	return &Buffer{
		maxDurationMs:        maxDurationMs,
		minSegmentDurationMs: minSegmentDurationMs,
	}
}

// PushFrame appends frame to the buffer. It returns apperr.ErrBufferOverflow
// when the total buffered duration would reach or exceed max_buffer_duration_ms;
// the caller must interpret this as a forced boundary. The frame that
// triggered the overflow is NOT added to this buffer — the caller is
// expected to retain it into the fresh buffer obtained from SwapBuffers,
// per spec.md §4.8's "frame that caused overflow is preserved into the new
// buffer".
func (b *Buffer) PushFrame(frame types.AudioFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.durationMs+frame.DurationMs() >= b.maxDurationMs {
		return apperr.ErrBufferOverflow
	}
	b.frames = append(b.frames, frame)
	b.durationMs += frame.DurationMs()
	return nil
}

// CheckMinDuration reports whether the current buffer meets
// min_segment_duration_ms.
func (b *Buffer) CheckMinDuration() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationMs >= b.minSegmentDurationMs
}

// DurationMs returns the currently buffered duration.
func (b *Buffer) DurationMs() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationMs
}

// TakeCurrentBuffer atomically removes and returns all buffered frames,
// leaving the buffer empty. Equivalent to SwapBuffers(nil).
func (b *Buffer) TakeCurrentBuffer() []types.AudioFrame {
	return b.SwapBuffers(nil)
}

// SwapBuffers atomically replaces the buffer's contents with carryOver
// (frames to retain into the new utterance, e.g. the overflow-triggering
// frame) and returns the previously accumulated frames for the pipeline
// to process. Take+swap is serializable with respect to PushFrame because
// both hold the same mutex.
func (b *Buffer) SwapBuffers(carryOver []types.AudioFrame) []types.AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	taken := b.frames
	b.frames = nil
	b.durationMs = 0
	for _, f := range carryOver {
		b.frames = append(b.frames, f)
		b.durationMs += f.DurationMs()
	}
	return taken
}
