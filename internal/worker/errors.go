package worker

import (
	"errors"
	"fmt"

	"qaworker/pkg/types"
)

// ErrNotInitialized is returned by Run when a load, infer or unload arrives
// before init wired the outbound channels.
var ErrNotInitialized = errors.New("worker not initialized: init must precede load/infer")

// ErrWorkerClosed is returned by Send after Close.
var ErrWorkerClosed = errors.New("worker closed")

// loadError signals that the backend could not acquire a model.
type loadError struct {
	modelID string
	err     error
}

func (e loadError) Error() string { return fmt.Sprintf("load %s: %v", e.modelID, e.err) }
func (e loadError) Unwrap() error { return e.err }

// ErrLoad wraps a backend failure to acquire modelID.
func ErrLoad(modelID string, err error) error { return loadError{modelID: modelID, err: err} }

// IsLoadError reports whether err is a model load failure.
func IsLoadError(err error) bool {
	var le loadError
	return errors.As(err, &le)
}

// modelNotFoundError signals a request for a model absent from the cache.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not loaded: " + e.id }

// ErrModelNotFound returns a lookup error for id.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf)
}

// shapeError signals a malformed input batch.
type shapeError struct{ msg string }

func (e shapeError) Error() string { return "malformed inputs: " + e.msg }

func errShape(format string, args ...any) error {
	return shapeError{msg: fmt.Sprintf(format, args...)}
}

// IsShapeError reports whether err indicates malformed inputs.
func IsShapeError(err error) bool {
	var se shapeError
	return errors.As(err, &se)
}

// computeError signals that the backend prediction or its outputs failed.
type computeError struct{ err error }

func (e computeError) Error() string { return "compute: " + e.err.Error() }
func (e computeError) Unwrap() error { return e.err }

// IsComputeError reports whether err is a backend compute failure.
func IsComputeError(err error) bool {
	var ce computeError
	return errors.As(err, &ce)
}

// errorInfo converts err into its wire form.
func errorInfo(err error) *types.ErrorInfo {
	kind := types.ErrorKindInternal
	switch {
	case IsLoadError(err):
		kind = types.ErrorKindLoad
	case IsModelNotFound(err):
		kind = types.ErrorKindLookup
	case IsShapeError(err):
		kind = types.ErrorKindShape
	case IsComputeError(err):
		kind = types.ErrorKindCompute
	}
	return &types.ErrorInfo{Kind: kind, Message: err.Error()}
}
