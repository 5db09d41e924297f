package orchestrator

import "errors"

var (
	// ErrEmptyTranscript is returned when ASR produced no usable text for
	// an utterance (already filtered by the meaningless-transcript check).
	ErrEmptyTranscript = errors.New("orchestrator: transcript empty or filtered")

	// ErrNoSentences is returned when text segmentation produced zero
	// non-empty segments from a non-empty transcript (should not happen
	// in practice; segment.Segmenter falls back to the whole text).
	ErrNoSentences = errors.New("orchestrator: segmentation produced no sentences")
)
