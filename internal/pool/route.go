package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

// maxAttempts bounds retries when a placement disappears under a request.
const maxAttempts = 3

// loadCall is a pool-level load in flight; concurrent callers share it.
type loadCall struct {
	slot *slot
	once sync.Once
	done chan struct{}
	err  error
}

func (c *loadCall) finish(err error) {
	c.once.Do(func() {
		c.err = err
		c.slot.pending.Add(-1)
		close(c.done)
	})
}

// Preload registers params under id and places the model on a worker.
func (p *Pool) Preload(ctx context.Context, id string, params types.ModelParams) error {
	if id == "" {
		id = params.Path
	}
	p.Register(id, params)
	_, err := p.ensure(ctx, id)
	return err
}

// Unload drops the placement for id, which sends unload to its worker.
func (p *Pool) Unload(id string) bool { return p.placements.Remove(id) }

// Infer runs in against modelID, loading it first if no worker holds it.
// Request ids are assigned by the pool. A worker-side failure is returned both
// in the result and as a *types.ErrorInfo error.
func (p *Pool) Infer(ctx context.Context, modelID string, in types.Inputs) (types.InferenceResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s, err := p.ensure(ctx, modelID)
		if errors.Is(err, errRetired) {
			lastErr = err
			continue
		}
		if err != nil {
			return types.InferenceResult{}, err
		}
		res, err := p.dispatch(ctx, s, modelID, in)
		switch {
		case errors.Is(err, errRetired):
			lastErr = err
			continue
		case err != nil:
			return res, err
		case res.Error != nil && res.Error.Kind == types.ErrorKindLookup:
			// The worker lost the model (unloaded behind the placement).
			p.dropPlacement(modelID, s)
			lastErr = res.Error
			continue
		case res.Error != nil:
			return res, res.Error
		}
		return res, nil
	}
	return types.InferenceResult{}, fmt.Errorf("infer %s: %w", modelID, lastErr)
}

// ensure returns a worker holding id, loading it when needed.
func (p *Pool) ensure(ctx context.Context, id string) (*slot, error) {
	if s, ok := p.placements.Get(id); ok && !s.retired.Load() {
		return s, nil
	}

	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, ErrPoolClosed
	case !p.started:
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	params, ok := p.params[id]
	if !ok {
		p.mu.Unlock()
		return nil, ErrUnknownModel(id)
	}
	if s, ok := p.placements.Peek(id); ok && !s.retired.Load() {
		p.mu.Unlock()
		return s, nil
	}
	call, ok := p.loading[id]
	if !ok {
		s, err := p.pickSlotLocked()
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("spawn worker: %w", err)
		}
		s.pending.Add(1)
		call = &loadCall{slot: s, done: make(chan struct{})}
		p.loading[id] = call
		p.mu.Unlock()

		p.log.Debug().Str("event", "load_dispatch").Str("model", id).Str("worker_id", s.w.ID()).Msg("placing model")
		if err := s.w.Send(ctx, worker.LoadMessage(id, params)); err != nil {
			p.mu.Lock()
			if p.loading[id] == call {
				delete(p.loading, id)
			}
			p.mu.Unlock()
			if errors.Is(err, worker.ErrWorkerClosed) {
				err = errRetired
			}
			call.finish(err)
		}
	} else {
		p.mu.Unlock()
	}

	timer, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
	defer cancel()
	select {
	case <-call.done:
	case <-timer.Done():
		return nil, timer.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
	if call.err != nil {
		return nil, call.err
	}
	return call.slot, nil
}

// onLoaded settles the load call matching ack.
func (p *Pool) onLoaded(s *slot, ack types.Loaded) {
	if ack.Unloaded {
		p.log.Debug().Str("event", "unload_ack").Str("model", ack.ModelID).Str("worker_id", s.w.ID()).Msg("model unloaded")
		return
	}
	p.mu.Lock()
	call, ok := p.loading[ack.ModelID]
	if !ok || call.slot != s {
		p.mu.Unlock()
		return
	}
	var err error
	switch {
	case ack.Error != nil:
		err = ack.Error
	case s.retired.Load():
		err = errRetired
	default:
		prev, ok := p.placements.Peek(ack.ModelID)
		if ok && prev != s {
			// Add overwrites without an eviction callback; the old
			// placement must be released explicitly.
			p.placements.Remove(ack.ModelID)
		}
		if !ok || prev != s {
			s.resident.Add(1)
			placementsGauge.Inc()
		}
		p.placements.Add(ack.ModelID, s)
	}
	delete(p.loading, ack.ModelID)
	p.mu.Unlock()
	call.finish(err)
}

// failLoads releases callers waiting on loads owned by a stopped worker.
func (p *Pool) failLoads(s *slot) {
	p.mu.Lock()
	var calls []*loadCall
	for id, c := range p.loading {
		if c.slot == s {
			delete(p.loading, id)
			calls = append(calls, c)
		}
	}
	p.mu.Unlock()
	for _, c := range calls {
		c.finish(errRetired)
	}
}

func (p *Pool) dropPlacement(id string, s *slot) {
	if v, ok := p.placements.Peek(id); ok && v == s {
		p.placements.Remove(id)
	}
}

// dispatch sends one request and waits for the result carrying its id.
func (p *Pool) dispatch(ctx context.Context, s *slot, modelID string, in types.Inputs) (types.InferenceResult, error) {
	id := p.nextReq.Add(1)
	ch := make(chan types.InferenceResult, 1)
	p.waitMu.Lock()
	p.waiters[id] = ch
	p.waitMu.Unlock()
	defer func() {
		p.waitMu.Lock()
		delete(p.waiters, id)
		p.waitMu.Unlock()
	}()

	req := types.InferenceRequest{RequestID: id, ModelID: modelID, Inputs: in}
	if err := s.w.Send(ctx, worker.InferMessage(req)); err != nil {
		if errors.Is(err, worker.ErrWorkerClosed) {
			return types.InferenceResult{}, errRetired
		}
		return types.InferenceResult{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return types.InferenceResult{}, ctx.Err()
	case <-p.done:
		return types.InferenceResult{}, ErrPoolClosed
	}
}

// deliver hands res to the caller waiting on its request id.
func (p *Pool) deliver(res types.InferenceResult) {
	p.waitMu.Lock()
	ch, ok := p.waiters[res.RequestID]
	p.waitMu.Unlock()
	if !ok {
		p.log.Debug().Int64("request_id", res.RequestID).Msg("result for abandoned request")
		return
	}
	select {
	case ch <- res:
	default:
	}
}
