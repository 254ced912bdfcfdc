package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qaworker/internal/backend"
	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

type fakeHandle struct{ path string }

func (h *fakeHandle) Path() string { return h.path }

// fakeBackend is shared by every worker the pool spawns in a test.
type fakeBackend struct {
	mu         sync.Mutex
	loadErr    map[string]error
	predictErr error
	loads      map[string]int
	live       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{loadErr: map[string]error{}, loads: map[string]int{}}
}

func (b *fakeBackend) LoadModel(ctx context.Context, path string) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads[path]++
	if err := b.loadErr[path]; err != nil {
		return nil, err
	}
	b.live++
	return &fakeHandle{path: path}, nil
}

func (b *fakeBackend) Predict(ctx context.Context, h backend.Handle, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	b.mu.Lock()
	perr := b.predictErr
	b.mu.Unlock()
	if perr != nil {
		return nil, perr
	}
	ids, ok := inputs["input_ids"]
	if !ok {
		return nil, errors.New("missing input_ids")
	}
	start := make([]float32, len(ids.Int32))
	end := make([]float32, len(ids.Int32))
	for i, v := range ids.Int32 {
		start[i] = float32(v) + 0.5
		end[i] = float32(v) - 0.5
	}
	st, _ := backend.NewFloat32(ids.Shape, start)
	et, _ := backend.NewFloat32(ids.Shape, end)
	return map[string]*backend.Tensor{"start_logits": st, "end_logits": et}, nil
}

func (b *fakeBackend) Release(h backend.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live--
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
	return b.loads[path]
}

func params(path string) types.ModelParams { return types.DefaultModelParams(path) }

// newTestPool starts a pool over be with the given overrides and closes it on cleanup.
func newTestPool(t *testing.T, be *fakeBackend, cfg Config) (*Pool, *worker.MemoryPublisher) {
	t.Helper()
	pub := worker.NewMemoryPublisher()
	cfg.NewBackend = func() (backend.Backend, error) { return be, nil }
	cfg.Publisher = pub
	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, pub
}

func oneRow(ids ...int32) types.Inputs {
	mask := make([]int32, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return types.Inputs{IDs: [][]int32{ids}, AttentionMask: [][]int32{mask}}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
