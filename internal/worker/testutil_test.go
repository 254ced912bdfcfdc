package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qaworker/internal/backend"
	"qaworker/pkg/types"
)

// fakeHandle is the handle produced by fakeBackend.
type fakeHandle struct {
	path string
	seq  int
}

func (h *fakeHandle) Path() string { return h.path }

// predictCall records what one Predict received.
type predictCall struct {
	path   string
	inputs []string
}

// fakeBackend is a deterministic in-memory backend. Start logits are id+0.5 and
// end logits id-0.5, laid out as [N, L] (or with a trailing singleton axis when
// trailingAxis is set).
type fakeBackend struct {
	mu         sync.Mutex
	outNames   [2]string
	loadDelay  time.Duration
	loadErr    map[string]error
	predictErr error
	panicOn    string
	gate       chan struct{}
	entered    chan struct{}
	trailing   bool
	// flat emits every score in a single [1, N*L] row.
	flat bool

	seq       int
	live      int
	loadCalls map[string]int
	released  []string
	calls     []predictCall
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		outNames:  [2]string{"out0", "out1"},
		loadErr:   map[string]error{},
		loadCalls: map[string]int{},
	}
}

func (b *fakeBackend) LoadModel(ctx context.Context, path string) (backend.Handle, error) {
	b.mu.Lock()
	b.loadCalls[path]++
	delay := b.loadDelay
	err := b.loadErr[path]
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.live++
	return &fakeHandle{path: path, seq: b.seq}, nil
}

func (b *fakeBackend) Predict(ctx context.Context, h backend.Handle, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	fh := h.(*fakeHandle)
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		names = append(names, n)
	}
	b.mu.Lock()
	b.calls = append(b.calls, predictCall{path: fh.path, inputs: names})
	gate, entered, perr, panicOn, trailing, flat := b.gate, b.entered, b.predictErr, b.panicOn, b.trailing, b.flat
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicOn != "" && panicOn == fh.path {
		panic("backend exploded")
	}
	if perr != nil {
		return nil, perr
	}

	ids, ok := inputs["input_ids"]
	if !ok {
		return nil, errors.New("missing input_ids")
	}
	n, l := ids.Shape[0], ids.Shape[1]
	start := make([]float32, n*l)
	end := make([]float32, n*l)
	for i, v := range ids.Int32 {
		start[i] = float32(v) + 0.5
		end[i] = float32(v) - 0.5
	}
	shape := []int{n, l}
	switch {
	case flat:
		shape = []int{1, n * l}
	case trailing:
		shape = []int{n, l, 1}
	}
	st, _ := backend.NewFloat32(shape, start)
	et, _ := backend.NewFloat32(shape, end)
	return map[string]*backend.Tensor{b.outNames[0]: st, b.outNames[1]: et}, nil
}

func (b *fakeBackend) Release(h backend.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live--
	b.released = append(b.released, h.Path())
	return nil
}

func (b *fakeBackend) NumLoaded() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *fakeBackend) loadCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadCalls[path]
}

func (b *fakeBackend) predictCalls() []predictCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]predictCall(nil), b.calls...)
}

// qaParams mirrors a question-answering export with outputs out0/out1.
func qaParams(path string) types.ModelParams {
	return types.ModelParams{
		Path: path,
		InputsNames: map[types.InputRole]string{
			types.InputIDs:           "input_ids",
			types.InputAttentionMask: "attention_mask",
		},
		OutputsNames: map[types.OutputRole]string{
			types.OutputStartLogits: "out0",
			types.OutputEndLogits:   "out1",
		},
	}
}

// harness runs a worker and owns its outbound channels.
type harness struct {
	w       *Worker
	be      *fakeBackend
	pub     *MemoryPublisher
	loaded  chan types.Loaded
	results chan types.InferenceResult
	control chan types.EvictRequest
	errc    chan error
	cancel  context.CancelFunc
	stopped bool
}

// startWorker starts a worker with init already sent.
func startWorker(t *testing.T, be *fakeBackend, cfg Config) *harness {
	t.Helper()
	h := newHarness(t, be, cfg)
	require.NoError(t, h.w.Send(testCtx(t), InitMessage(Ports{Loaded: h.loaded, Results: h.results, Control: h.control})))
	return h
}

// newHarness starts a worker without sending init.
func newHarness(t *testing.T, be *fakeBackend, cfg Config) *harness {
	t.Helper()
	cfg.Backend = be
	pub := NewMemoryPublisher()
	cfg.Publisher = pub
	w, err := New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		w:       w,
		be:      be,
		pub:     pub,
		loaded:  make(chan types.Loaded, 16),
		results: make(chan types.InferenceResult, 16),
		control: make(chan types.EvictRequest, 4),
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() { h.errc <- w.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	return h
}

// stop cancels the worker and waits for Run to return.
func (h *harness) stop(t *testing.T) error {
	t.Helper()
	if h.stopped {
		return nil
	}
	h.stopped = true
	h.cancel()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
		return nil
	}
}

func (h *harness) load(t *testing.T, id string, params types.ModelParams) types.Loaded {
	t.Helper()
	require.NoError(t, h.w.Send(testCtx(t), LoadMessage(id, params)))
	return h.nextLoaded(t)
}

func (h *harness) nextLoaded(t *testing.T) types.Loaded {
	t.Helper()
	select {
	case ack := <-h.loaded:
		return ack
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for loaded ack")
		return types.Loaded{}
	}
}

func (h *harness) infer(t *testing.T, req types.InferenceRequest) types.InferenceResult {
	t.Helper()
	require.NoError(t, h.w.Send(testCtx(t), InferMessage(req)))
	return h.nextResult(t)
}

func (h *harness) nextResult(t *testing.T) types.InferenceResult {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
		return types.InferenceResult{}
	}
}

// batch builds n rows of width l with ids 1..l and an all-ones mask.
func batch(n, l int) types.Inputs {
	in := types.Inputs{}
	for i := 0; i < n; i++ {
		ids := make([]int32, l)
		mask := make([]int32, l)
		for j := range ids {
			ids[j] = int32(i*l + j + 1)
			mask[j] = 1
		}
		in.IDs = append(in.IDs, ids)
		in.AttentionMask = append(in.AttentionMask, mask)
	}
	return in
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

var errBoom = errors.New("boom")

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
