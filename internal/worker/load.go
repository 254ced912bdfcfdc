package worker

import (
	"context"
	"errors"
	"time"

	"qaworker/pkg/types"
)

// loadCall is an in-flight backend load that later loads of the same id join.
type loadCall struct {
	done chan struct{}
	err  error
}

// requiredRoles are the params every model must declare to be servable.
func validateParams(p types.ModelParams) error {
	if p.Path == "" {
		return errors.New("params.path is empty")
	}
	for _, r := range []types.InputRole{types.InputIDs, types.InputAttentionMask} {
		if _, ok := p.InputName(r); !ok {
			return errors.New("params declare no input for role " + string(r))
		}
	}
	for _, r := range []types.OutputRole{types.OutputStartLogits, types.OutputEndLogits} {
		if _, ok := p.OutputName(r); !ok {
			return errors.New("params declare no output for role " + string(r))
		}
	}
	return nil
}

// handleLoad acquires a model and acknowledges on the load channel. Loads of an
// id that is already loading are coalesced into the first; loads of a resident
// id are acknowledged without touching the backend.
func (w *Worker) handleLoad(ctx context.Context, ports *Ports, id string, params *types.ModelParams) {
	if params == nil {
		w.finishLoad(ctx, ports, id, ErrLoad(id, errors.New("load without params")), "invalid")
		return
	}
	if err := validateParams(*params); err != nil {
		w.finishLoad(ctx, ports, id, ErrLoad(id, err), "invalid")
		return
	}

	w.loadMu.Lock()
	if w.cache.Has(id) {
		w.loadMu.Unlock()
		w.log.Debug().Str("event", "load_resident").Str("model", id).Msg("model already loaded")
		w.finishLoad(ctx, ports, id, nil, "resident")
		return
	}
	if call, ok := w.loading[id]; ok {
		w.loadMu.Unlock()
		w.log.Debug().Str("event", "load_coalesced").Str("model", id).Msg("joining in-flight load")
		w.publisher.Publish(Event{Name: "load_coalesced", WorkerID: w.id, ModelID: id})
		select {
		case <-call.done:
			w.finishLoad(ctx, ports, id, call.err, "coalesced")
		case <-ctx.Done():
		}
		return
	}
	call := &loadCall{done: make(chan struct{})}
	w.loading[id] = call
	w.loadMu.Unlock()

	start := time.Now()
	w.log.Info().Str("event", "load_start").Str("model", id).Str("path", params.Path).
		Int("backend_loaded", w.backend.NumLoaded()).Msg("loading model")
	w.publisher.Publish(Event{Name: "load_start", WorkerID: w.id, ModelID: id})

	h, err := w.backend.LoadModel(ctx, params.Path)
	if err != nil {
		call.err = ErrLoad(id, err)
	} else if prev := w.cache.Put(id, h, *params); prev != nil {
		_ = w.backend.Release(prev)
	}

	w.loadMu.Lock()
	delete(w.loading, id)
	w.loadMu.Unlock()
	close(call.done)

	if call.err == nil {
		w.log.Info().Str("event", "load_done").Str("model", id).Dur("dur", time.Since(start)).
			Int("backend_loaded", w.backend.NumLoaded()).Msg("model loaded")
		w.publisher.Publish(Event{Name: "load_done", WorkerID: w.id, ModelID: id, Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)}})
	}
	w.finishLoad(ctx, ports, id, call.err, "loaded")
}

// finishLoad records the outcome and emits the loaded ack.
func (w *Worker) finishLoad(ctx context.Context, ports *Ports, id string, err error, outcome string) {
	ack := types.Loaded{ModelID: id}
	if err != nil {
		outcome = "error"
		ack.Error = errorInfo(err)
		w.log.Error().Str("event", "load_error").Str("model", id).Err(err).Msg("model load failed")
		w.publisher.Publish(Event{Name: "load_error", WorkerID: w.id, ModelID: id, Fields: map[string]any{"error": err.Error()}})
	}
	loadsTotal.WithLabelValues(outcome).Inc()
	select {
	case ports.Loaded <- ack:
	case <-ctx.Done():
	}
}

// handleUnload removes a model, waits for inferences holding it, and releases
// the backend handle.
func (w *Worker) handleUnload(ctx context.Context, ports *Ports, id string) {
	w.loadMu.Lock()
	call := w.loading[id]
	w.loadMu.Unlock()
	if call != nil {
		select {
		case <-call.done:
		case <-ctx.Done():
			return
		}
	}

	ack := types.Loaded{ModelID: id, Unloaded: true}
	h := w.cache.Remove(id)
	if h == nil {
		ack.Error = errorInfo(ErrModelNotFound(id))
	} else if err := w.backend.Release(h); err != nil {
		w.log.Warn().Str("event", "unload_release").Str("model", id).Err(err).Msg("release failed")
	}
	if ack.Error == nil {
		w.log.Info().Str("event", "unload_done").Str("model", id).
			Int("backend_loaded", w.backend.NumLoaded()).Msg("model unloaded")
		w.publisher.Publish(Event{Name: "unload_done", WorkerID: w.id, ModelID: id})
	}
	select {
	case ports.Loaded <- ack:
	case <-ctx.Done():
	}
}
