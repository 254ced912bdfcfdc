package worker

import (
	"sort"

	"qaworker/pkg/types"
)

// State derives the lifecycle state from wiring, cache contents and the
// in-flight count.
func (w *Worker) State() State {
	switch {
	case w.currentPorts() == nil:
		return StateUninitialized
	case w.inflight.Load() > 0:
		return StateBusy
	case w.cache.Len() == 0:
		return StateReady
	default:
		return StateActive
	}
}

// Inflight returns the number of requests currently executing.
func (w *Worker) Inflight() int64 { return w.inflight.Load() }

// Models returns the resident model ids.
func (w *Worker) Models() []string { return w.cache.IDs() }

// Status returns a read-only view of the worker.
func (w *Worker) Status() types.WorkerStatus {
	w.loadMu.Lock()
	loading := make([]string, 0, len(w.loading))
	for id := range w.loading {
		loading = append(loading, id)
	}
	w.loadMu.Unlock()
	sort.Strings(loading)
	return types.WorkerStatus{
		WorkerID:      w.id,
		State:         string(w.State()),
		Inflight:      w.inflight.Load(),
		Models:        w.cache.status(),
		Loading:       loading,
		LastActivity:  w.LastActivity().Unix(),
		BackendLoaded: w.backend.NumLoaded(),
	}
}
