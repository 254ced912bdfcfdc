package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"qaworker/internal/adminapi"
	"qaworker/internal/backend"
	"qaworker/internal/pool"
	"qaworker/internal/registry"
	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

type fakeHandle struct{ path string }

func (h *fakeHandle) Path() string { return h.path }

// fakeBackend emits start=id+0.5 and end=id-0.5 under the conventional output names.
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

// service wires a pool into the admin API the same way the daemon does.
type service struct {
	pool *pool.Pool
	be   *fakeBackend
}

func (s *service) Status() types.StatusResponse { return s.pool.Status() }
func (s *service) Ready() bool                  { return s.pool.Ready() }
func (s *service) Models() []string             { return s.pool.Models() }
func (s *service) Resident() []string           { return s.pool.Resident() }
func (s *service) Unload(id string) bool        { return s.pool.Unload(id) }
func (s *service) NewWorker() (*worker.Worker, error) {
	return worker.New(worker.Config{Backend: s.be})
}

// createTempModelsDir lays out models in both supported layouts: a flat
// <name>.onnx file and a <name>/model.onnx directory.
func createTempModelsDir(t *testing.T, flat []string, dirs []string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range flat {
		if err := os.WriteFile(filepath.Join(dir, n+".onnx"), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", n, err)
		}
	}
	for _, n := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, n), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", n, err)
		}
		if err := os.WriteFile(filepath.Join(dir, n, "model.onnx"), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", n, err)
		}
	}
	return dir
}

// newServerForDir scans modelsDir into a started pool and serves the admin API.
func newServerForDir(t *testing.T, modelsDir string, cfg pool.Config) (*httptest.Server, *pool.Pool) {
	t.Helper()
	entries, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	be := &fakeBackend{}
	cfg.NewBackend = func() (backend.Backend, error) { return be, nil }
	p, err := pool.New(cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, e := range entries {
		p.Register(e.ID, e.Params)
	}
	srv := httptest.NewServer(adminapi.NewMux(&service{pool: p, be: be}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return srv, p
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/worker"
}

func httpDo(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, body := httpDo(t, http.MethodGet, url)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d body=%s", url, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v body=%s", url, err, body)
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
