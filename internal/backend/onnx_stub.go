//go:build !onnx

package backend

// This file provides a no-CGO stub for the ONNX Runtime backend. It is compiled
// when the 'onnx' build tag is NOT set. The real backend lives in onnx.go.

// onnxBuilt indicates this binary was compiled with ONNX Runtime support.
var onnxBuilt = false

// ONNXConfig configures the ONNX Runtime environment. It is process-global.
type ONNXConfig struct {
	// SharedLibrary is the path to libonnxruntime. Empty uses the loader default.
	SharedLibrary string
	// IntraOpThreads bounds per-session compute threads (0 = runtime default).
	IntraOpThreads int
}

// NewONNX fails fast: the runtime is not available in this build.
func NewONNX(cfg ONNXConfig) (Backend, error) {
	return nil, ErrDependencyUnavailable("onnx support not built (missing 'onnx' build tag)")
}
