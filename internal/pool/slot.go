package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

// slot is one live worker and the channels it reports on.
type slot struct {
	w       *worker.Worker
	loaded  chan types.Loaded
	results chan types.InferenceResult
	control chan types.EvictRequest
	done    chan struct{} // closed when Run returns

	resident atomic.Int64
	pending  atomic.Int64
	retired  atomic.Bool
}

func (s *slot) weight() int64 { return s.resident.Load() + s.pending.Load() }

// pickSlotLocked chooses the live worker with the fewest models, spawning a
// new one while under the worker bound and every live worker is occupied.
func (p *Pool) pickSlotLocked() (*slot, error) {
	var best *slot
	live := 0
	for _, s := range p.slots {
		if s.retired.Load() {
			continue
		}
		live++
		if best == nil || s.weight() < best.weight() {
			best = s
		}
	}
	if best != nil && (best.weight() == 0 || live >= p.cfg.Workers) {
		return best, nil
	}
	return p.spawnLocked()
}

func (p *Pool) spawnLocked() (*slot, error) {
	be, err := p.cfg.NewBackend()
	if err != nil {
		return nil, err
	}
	wcfg := p.cfg.Worker
	wcfg.ID = uuid.NewString()
	wcfg.Backend = be
	wcfg.Logger = &p.log
	if wcfg.Publisher == nil {
		wcfg.Publisher = p.publisher
	}
	w, err := worker.New(wcfg)
	if err != nil {
		return nil, err
	}
	s := &slot{
		w:       w,
		loaded:  make(chan types.Loaded, 8),
		results: make(chan types.InferenceResult, 64),
		control: make(chan types.EvictRequest, 1),
		done:    make(chan struct{}),
	}
	ctx := p.ctx
	go func() {
		defer close(s.done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Str("worker_id", w.ID()).Msg("worker stopped")
		}
	}()
	if err := w.Send(ctx, worker.InitMessage(worker.Ports{Loaded: s.loaded, Results: s.results, Control: s.control})); err != nil {
		w.Close()
		return nil, err
	}
	p.slots = append(p.slots, s)
	p.pumps.Add(1)
	go p.pump(s)
	liveWorkers.Inc()
	p.log.Info().Str("event", "worker_spawned").Str("worker_id", w.ID()).Int("workers", len(p.slots)).Msg("worker spawned")
	p.publish(worker.Event{Name: "worker_spawned", WorkerID: w.ID()})
	return s, nil
}

// pump drains one worker's outbound channels until its Run returns.
func (p *Pool) pump(s *slot) {
	defer p.pumps.Done()
	for {
		select {
		case ack := <-s.loaded:
			p.onLoaded(s, ack)
		case res := <-s.results:
			p.deliver(res)
		case req := <-s.control:
			p.retire(s, req)
		case <-s.done:
			for {
				select {
				case ack := <-s.loaded:
					p.onLoaded(s, ack)
				case res := <-s.results:
					p.deliver(res)
				default:
					p.failLoads(s)
					return
				}
			}
		}
	}
}

// retire tears down a worker that asked to be killed.
func (p *Pool) retire(s *slot, req types.EvictRequest) {
	if !s.retired.CompareAndSwap(false, true) {
		return
	}
	for _, id := range p.placements.Keys() {
		if v, ok := p.placements.Peek(id); ok && v == s {
			p.placements.Remove(id)
		}
	}
	p.mu.Lock()
	for i, cur := range p.slots {
		if cur == s {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	s.w.Close()
	p.retired.Add(1)
	retiredTotal.Inc()
	liveWorkers.Dec()
	p.log.Info().Str("event", "worker_retired").Str("worker_id", req.WorkerID).Dur("idle", req.IdleFor).Msg("idle worker retired")
	p.publish(worker.Event{Name: "worker_retired", WorkerID: req.WorkerID})
}

// onEvict runs when a placement leaves the LRU.
func (p *Pool) onEvict(id string, s *slot) {
	s.resident.Add(-1)
	placementsGauge.Dec()
	if s.retired.Load() {
		return
	}
	placementEvictionsTotal.Inc()
	p.log.Debug().Str("event", "placement_evicted").Str("model", id).Str("worker_id", s.w.ID()).Msg("unloading model")
	p.publish(worker.Event{Name: "placement_evicted", WorkerID: s.w.ID(), ModelID: id})
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LoadTimeout)
		defer cancel()
		if err := s.w.Send(ctx, worker.UnloadMessage(id)); err != nil {
			p.log.Debug().Err(err).Str("model", id).Msg("unload not delivered")
		}
	}()
}
