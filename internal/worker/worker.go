package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qaworker/internal/backend"
	"qaworker/pkg/types"
)

// Worker hosts a private ModelCache and runs the request state machine.
// Messages are posted with Send (or the Inbox channel) and consumed by Run.
type Worker struct {
	id        string
	cfg       Config
	log       zerolog.Logger
	backend   backend.Backend
	cache     *ModelCache
	publisher EventPublisher

	inbox    chan types.Message
	sendMu   sync.RWMutex
	closed   bool
	running  atomic.Bool
	handlers sync.WaitGroup

	mu    sync.RWMutex
	ports *Ports

	loadMu  sync.Mutex
	loading map[string]*loadCall

	inflight     atomic.Int64
	lastActivity atomic.Int64 // unix nanos of the last infer completion
	// idleSignaledAt is the lastActivity value a kill request was sent for.
	// Only the receive loop touches it.
	idleSignaledAt int64

	startTime time.Time
}

// New constructs a Worker from cfg.
func New(cfg Config) (*Worker, error) {
	if cfg.Backend == nil {
		return nil, errors.New("worker: backend is required")
	}
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	base := zerolog.Nop()
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	w := &Worker{
		id:        cfg.ID,
		cfg:       cfg,
		log:       base.With().Str("worker_id", cfg.ID).Logger(),
		backend:   cfg.Backend,
		cache:     NewModelCache(),
		publisher: cfg.Publisher,
		inbox:     make(chan types.Message, cfg.InboxSize),
		loading:   make(map[string]*loadCall),
		startTime: time.Now(),
	}
	w.touch()
	return w, nil
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.id }

// SetEventPublisher replaces the event hook. Call before Run.
func (w *Worker) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	w.publisher = p
}

// Inbox exposes the inbound channel for coordinators that prefer a raw send.
func (w *Worker) Inbox() chan<- types.Message { return w.inbox }

// Send posts msg to the worker, blocking while the inbox is full.
func (w *Worker) Send(ctx context.Context, msg types.Message) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	select {
	case w.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages. Run drains what is already queued, waits for
// in-flight work and returns nil.
func (w *Worker) Close() {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.inbox)
	}
}

// Run consumes the inbox until ctx is canceled or the worker is closed. It
// returns ErrNotInitialized if the coordinator breaks the init-first contract.
// Every resident model is released before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.releaseAll()
	defer w.handlers.Wait()

	w.touch()
	var tick <-chan time.Time
	if d := w.cfg.idleCheckInterval(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		tick = t.C
	}
	w.log.Info().Str("event", "run_start").Dur("max_inactive", w.cfg.MaxInactiveTime).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Str("event", "run_stop").Err(ctx.Err()).Msg("worker stopped")
			return ctx.Err()
		case msg, ok := <-w.inbox:
			if !ok {
				w.log.Info().Str("event", "run_stop").Msg("worker closed")
				return nil
			}
			if err := w.dispatch(ctx, msg); err != nil {
				cancel()
				return err
			}
		case now := <-tick:
			w.checkIdle(now)
		}
	}
}

// dispatch routes one message. Only wiring failures return an error.
func (w *Worker) dispatch(ctx context.Context, msg types.Message) error {
	switch msg.Type {
	case types.MsgInit:
		return w.handleInit(msg)
	case types.MsgLoad, types.MsgUnload, types.MsgInfer:
	default:
		w.log.Debug().Str("type", string(msg.Type)).Msg("ignoring unknown message")
		return nil
	}

	ports := w.currentPorts()
	if ports == nil {
		w.protocolError(fmt.Sprintf("%s received before init", msg.Type))
		return fmt.Errorf("%w (got %s)", ErrNotInitialized, msg.Type)
	}

	switch msg.Type {
	case types.MsgLoad:
		id := msg.ModelID
		if id == "" && msg.Params != nil {
			id = msg.Params.Path
		}
		var params *types.ModelParams
		if msg.Params != nil {
			p := msg.Params.Clone()
			params = &p
		}
		w.spawn(func() { w.handleLoad(ctx, ports, id, params) })
	case types.MsgUnload:
		w.spawn(func() { w.handleUnload(ctx, ports, msg.ModelID) })
	case types.MsgInfer:
		if msg.Request == nil {
			w.log.Warn().Msg("infer without request payload")
			return nil
		}
		req := *msg.Request
		w.beginRequest()
		w.spawn(func() { w.handleInfer(ctx, ports, req) })
	}
	return nil
}

func (w *Worker) handleInit(msg types.Message) error {
	var p Ports
	switch v := msg.Ports.(type) {
	case Ports:
		p = v
	case *Ports:
		if v != nil {
			p = *v
		}
	}
	if p.Loaded == nil || p.Results == nil {
		w.protocolError("init without load-ack and result channels")
		return fmt.Errorf("%w: init is missing outbound channels", ErrNotInitialized)
	}
	w.mu.Lock()
	rewired := w.ports != nil
	w.ports = &p
	w.mu.Unlock()
	if rewired {
		w.log.Warn().Str("event", "init").Int64("inflight", w.inflight.Load()).Msg("outbound channels replaced")
	} else {
		w.log.Debug().Str("event", "init").Msg("outbound channels wired")
	}
	w.publisher.Publish(Event{Name: "init", WorkerID: w.id, Fields: map[string]any{"rewired": rewired}})
	return nil
}

func (w *Worker) protocolError(msg string) {
	w.log.Error().Str("event", "protocol_error").Msg(msg)
	w.publisher.Publish(Event{Name: "protocol_error", WorkerID: w.id, Fields: map[string]any{"error": msg}})
	protocolErrorsTotal.Inc()
}

func (w *Worker) currentPorts() *Ports {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ports
}

func (w *Worker) spawn(fn func()) {
	w.handlers.Add(1)
	go func() {
		defer w.handlers.Done()
		fn()
	}()
}

// releaseAll drops every resident model once the loop has stopped.
func (w *Worker) releaseAll() {
	for _, h := range w.cache.drain() {
		if err := w.backend.Release(h); err != nil {
			w.log.Warn().Err(err).Str("path", h.Path()).Msg("release on shutdown")
		}
	}
}
