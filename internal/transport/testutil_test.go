package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"qaworker/internal/backend"
	"qaworker/internal/worker"
)

type fakeHandle struct{ path string }

func (h *fakeHandle) Path() string { return h.path }

type fakeBackend struct {
	mu   sync.Mutex
	live int
}

func (b *fakeBackend) LoadModel(ctx context.Context, path string) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live++
	return &fakeHandle{path: path}, nil
}

func (b *fakeBackend) Predict(ctx context.Context, h backend.Handle, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
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

// serve starts an HTTP server that bridges every websocket to a fresh worker.
// Bridge results are reported on the returned channel.
func serve(t *testing.T, be *fakeBackend, wcfg worker.Config) (string, <-chan error) {
	t.Helper()
	done := make(chan error, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cfg := wcfg
		cfg.Backend = be
		wk, err := worker.New(cfg)
		if err != nil {
			done <- err
			return
		}
		done <- NewBridge(conn, wk, nil).Run(context.Background())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), done
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}
