package pool

import "errors"

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = errors.New("pool closed")

// ErrNotStarted is returned by operations that need Start first.
var ErrNotStarted = errors.New("pool not started")

// errRetired signals that the worker chosen for a request was torn down.
// Callers retry against a fresh placement.
var errRetired = errors.New("worker retired")

// unknownModelError signals a model id that was never registered.
type unknownModelError struct{ id string }

func (e unknownModelError) Error() string { return "unknown model: " + e.id }

// ErrUnknownModel returns an error for an unregistered model id.
func ErrUnknownModel(id string) error { return unknownModelError{id: id} }

// IsUnknownModel reports whether err indicates an unregistered model id.
func IsUnknownModel(err error) bool {
	var ue unknownModelError
	return errors.As(err, &ue)
}
