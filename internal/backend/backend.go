// Package backend defines the inference backend a worker drives: load a model
// from storage, run a prediction over named tensors, release the model.
//
// The ONNX Runtime implementation is compiled with `-tags=onnx`. Without the
// tag a stub is built that refuses every load with a dependency-unavailable
// error, keeping default builds CGO-free.
package backend

import "context"

// Handle is an opaque reference to a model loaded by a Backend. It is only
// meaningful to the Backend that produced it.
type Handle interface {
	// Path is the storage location the handle was loaded from.
	Path() string
}

// Backend is the compute engine collaborator. Implementations must allow
// Predict to be called concurrently for the same or different handles.
type Backend interface {
	// LoadModel acquires the model stored at path.
	LoadModel(ctx context.Context, path string) (Handle, error)
	// Predict runs the model against named input tensors and returns every
	// named output. Intermediate native resources are released before return.
	Predict(ctx context.Context, h Handle, inputs map[string]*Tensor) (map[string]*Tensor, error)
	// Release destroys a handle. The handle must not be used afterwards.
	Release(h Handle) error
	// NumLoaded reports how many handles are currently live. Diagnostic only.
	NumLoaded() int
}

// dependencyUnavailableError signals a missing runtime (shared library, build tag).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
