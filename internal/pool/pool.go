package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

// Pool routes inference requests to workers, loading models on demand.
type Pool struct {
	cfg       Config
	log       zerolog.Logger
	publisher worker.EventPublisher

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	done    chan struct{}
	slots   []*slot
	params  map[string]types.ModelParams
	loading map[string]*loadCall

	// placements maps model id to the worker holding it.
	placements *lru.Cache[string, *slot]

	waitMu  sync.Mutex
	waiters map[int64]chan types.InferenceResult
	nextReq atomic.Int64

	pumps sync.WaitGroup
	bg    sync.WaitGroup

	retired   atomic.Uint64
	startTime time.Time
}

// New constructs a Pool from cfg. Workers are spawned lazily after Start.
func New(cfg Config) (*Pool, error) {
	if cfg.NewBackend == nil {
		return nil, errors.New("pool: NewBackend is required")
	}
	cfg = cfg.withDefaults()
	base := zerolog.Nop()
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	p := &Pool{
		cfg:       cfg,
		log:       base.With().Str("component", "pool").Logger(),
		publisher: cfg.Publisher,
		done:      make(chan struct{}),
		params:    make(map[string]types.ModelParams),
		loading:   make(map[string]*loadCall),
		waiters:   make(map[int64]chan types.InferenceResult),
		startTime: time.Now(),
	}
	cache, err := lru.NewWithEvict[string, *slot](cfg.MaxResident, p.onEvict)
	if err != nil {
		return nil, err
	}
	p.placements = cache
	return p, nil
}

// Start binds the pool to ctx. Workers run until ctx is canceled or Close.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.log.Info().Int("max_workers", p.cfg.Workers).Int("max_resident", p.cfg.MaxResident).Msg("pool started")
	return nil
}

// Ready reports whether the pool accepts requests.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed
}

// Register makes params loadable under id. Re-registering a resident id takes
// effect after it is unloaded.
func (p *Pool) Register(id string, params types.ModelParams) {
	if id == "" {
		id = params.Path
	}
	p.mu.Lock()
	p.params[id] = params.Clone()
	p.mu.Unlock()
}

// Models returns the registered model ids in sorted order.
func (p *Pool) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.params))
	for id := range p.params {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resident returns the placed model ids, oldest first.
func (p *Pool) Resident() []string { return p.placements.Keys() }

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Status returns a snapshot of every live worker.
func (p *Pool) Status() types.StatusResponse {
	p.mu.Lock()
	slots := append([]*slot(nil), p.slots...)
	p.mu.Unlock()
	now := time.Now()
	out := types.StatusResponse{
		Workers:        make([]types.WorkerStatus, 0, len(slots)),
		UptimeSeconds:  int64(now.Sub(p.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		EvictionsTotal: p.retired.Load(),
	}
	for _, s := range slots {
		out.Workers = append(out.Workers, s.w.Status())
	}
	return out
}

// Close retires every worker, letting queued messages drain until ctx ends.
// Waiting callers get ErrPoolClosed.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	slots := p.slots
	p.slots = nil
	cancel := p.cancel
	p.mu.Unlock()

	for _, s := range slots {
		s.retired.Store(true)
		s.w.Close()
	}
	var err error
	for _, s := range slots {
		select {
		case <-s.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	if cancel != nil {
		cancel()
	}
	p.pumps.Wait()
	p.bg.Wait()
	p.placements.Purge()
	liveWorkers.Sub(float64(len(slots)))
	p.log.Info().Int("workers", len(slots)).Msg("pool closed")
	return err
}

func (p *Pool) publish(e worker.Event) {
	if p.publisher != nil {
		p.publisher.Publish(e)
	}
}
