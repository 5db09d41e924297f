//go:build silero

package vad

// NewEngine builds the production InferenceEngine: Silero VAD v5 over ONNX
// Runtime. Selected by the "silero" build tag (see onnx_silero.go);
// without it, factory_default.go provides the dependency-free fallback.
func NewEngine(modelPath, sharedLibPath string, sampleRate int64) (InferenceEngine, error) {
	return NewOnnxSileroEngine(modelPath, sharedLibPath, sampleRate)
}
