package backend

import (
	"os"
)

// SanityReport describes runtime checks for the compute backend.
type SanityReport struct {
	ONNXBuilt    bool   `json:"onnx_built"`
	LibraryFound bool   `json:"library_found"`
	LibraryPath  string `json:"library_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SanityCheck validates that the configured shared library is present.
// It does not initialize the runtime and is safe to call at any time.
func SanityCheck(cfg ONNXConfig) SanityReport {
	r := SanityReport{ONNXBuilt: onnxBuilt}
	if !onnxBuilt {
		r.Error = "onnx support not built (missing 'onnx' build tag)"
		return r
	}
	if cfg.SharedLibrary == "" {
		// Left to the dynamic loader's search path.
		return r
	}
	r.LibraryPath = cfg.SharedLibrary
	fi, err := os.Stat(cfg.SharedLibrary)
	switch {
	case err != nil:
		r.Error = err.Error()
	case fi.IsDir():
		r.Error = "onnx library path is a directory"
	default:
		r.LibraryFound = true
	}
	return r
}
