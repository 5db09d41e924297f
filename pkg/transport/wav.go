package transport

import (
	"encoding/binary"
	"fmt"
)

// ParseWAV extracts the PCM16LE sample bytes (interleaved when stereo), the
// sample rate and the channel count from a minimal RIFF/WAVE container, the
// inverse of pkg/tts.WrapWAV. Only
// PCM16 mono/stereo is supported, matching spec.md's "16-bit PCM / WAV
// wrapping" scope (non-goal: general audio codec design).
func ParseWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("transport: not a valid WAV container")
	}

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		if body+chunkSize > len(data) {
			break
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, 0, fmt.Errorf("transport: fmt chunk too short")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if pcm == nil || sampleRate == 0 {
		return nil, 0, 0, fmt.Errorf("transport: missing fmt or data chunk")
	}
	if channels == 0 {
		channels = 1
	}
	return pcm, sampleRate, channels, nil
}
