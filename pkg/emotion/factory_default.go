//go:build !xlmr

package emotion

// NewEngine builds the default Engine when the binary was built without
// the "xlmr" tag (no ONNX Runtime shared library available): the
// dependency-free keyword heuristic. modelDir/sharedLibPath are accepted
// but unused so callers don't need a build-tag-conditional call site.
func NewEngine(modelDir, sharedLibPath string) (Engine, error) {
	return NewKeywordEngine(), nil
}
