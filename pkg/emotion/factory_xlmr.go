//go:build xlmr

package emotion

// NewEngine builds the production Engine: XLM-R over ONNX Runtime.
// Selected by the "xlmr" build tag (see onnx_xlmr.go); without it,
// factory_default.go provides the dependency-free fallback. An empty
// modelDir also selects the keyword engine.
func NewEngine(modelDir, sharedLibPath string) (Engine, error) {
	if modelDir == "" {
		return NewKeywordEngine(), nil
	}
	return NewOnnxXLMREngine(modelDir, sharedLibPath)
}
