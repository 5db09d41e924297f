// Package transport implements the external interfaces of spec.md §6: a
// WebSocket JSON-envelope streaming endpoint, a one-shot HTTP endpoint, and
// admin endpoints for health and speaker-mode configuration.
package transport

// DecodePCM16LE converts little-endian 16-bit PCM bytes into normalized
// float32 samples in [-1, 1].
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}

// EncodePCM16LE converts normalized float32 samples into little-endian
// 16-bit PCM bytes.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// StereoToMono downmixes interleaved stereo samples to mono by averaging
// each channel pair (spec.md §6: "adapter converts stereo->mono by
// averaging").
func StereoToMono(samples []float32) []float32 {
	n := len(samples) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (samples[2*i] + samples[2*i+1]) / 2
	}
	return out
}

// Resample performs linear-interpolation resampling from fromRate to
// toRate. No ecosystem resampling library appears in the retrieved
// examples, so this small DSP routine is implemented directly — see
// DESIGN.md for the standard-library justification.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx+1 < len(samples) {
			out[i] = samples[idx]*float32(1-frac) + samples[idx+1]*float32(frac)
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// NormalizeToMono16k converts raw interleaved PCM16-LE audio at the given
// sample rate/channel count into mono float32 samples at 16 kHz, per
// spec.md §6's input-format adapter contract.
func NormalizeToMono16k(pcm []byte, sampleRate, channels int) []float32 {
	samples := DecodePCM16LE(pcm)
	if channels == 2 {
		samples = StereoToMono(samples)
	}
	if sampleRate != 16000 {
		samples = Resample(samples, sampleRate, 16000)
	}
	return samples
}
