//go:build onnx

package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxBuilt indicates this binary was compiled with ONNX Runtime support.
var onnxBuilt = true

// ONNXConfig configures the ONNX Runtime environment. It is process-global.
type ONNXConfig struct {
	// SharedLibrary is the path to libonnxruntime. Empty uses the loader default.
	SharedLibrary string
	// IntraOpThreads bounds per-session compute threads (0 = runtime default).
	IntraOpThreads int
}

var initOnce sync.Once
var initErr error

type onnxBackend struct {
	cfg    ONNXConfig
	loaded atomic.Int64
}

// NewONNX initializes the ONNX Runtime environment once and returns a Backend.
func NewONNX(cfg ONNXConfig) (Backend, error) {
	initOnce.Do(func() {
		if cfg.SharedLibrary != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibrary)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, ErrDependencyUnavailable("onnxruntime: " + initErr.Error())
	}
	return &onnxBackend{cfg: cfg}, nil
}

// onnxHandle owns the sessions created for one model file. Sessions are keyed by
// the sorted set of input names since optional inputs change the session shape.
type onnxHandle struct {
	path    string
	inputs  map[string]ort.InputOutputInfo
	outputs []string

	mu       sync.Mutex
	sessions map[string]*ort.DynamicAdvancedSession
	closed   bool
}

func (h *onnxHandle) Path() string { return h.path }

func (b *onnxBackend) LoadModel(ctx context.Context, path string) (Handle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	h := &onnxHandle{
		path:     path,
		inputs:   make(map[string]ort.InputOutputInfo, len(ins)),
		sessions: make(map[string]*ort.DynamicAdvancedSession),
	}
	for _, in := range ins {
		h.inputs[in.Name] = in
	}
	for _, out := range outs {
		h.outputs = append(h.outputs, out.Name)
	}
	b.loaded.Add(1)
	return h, nil
}

func (b *onnxBackend) session(h *onnxHandle, names []string) (*ort.DynamicAdvancedSession, error) {
	key := strings.Join(names, "\x00")
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("model released")
	}
	if s, ok := h.sessions[key]; ok {
		return s, nil
	}
	var opts *ort.SessionOptions
	if b.cfg.IntraOpThreads > 0 {
		o, err := ort.NewSessionOptions()
		if err != nil {
			return nil, err
		}
		defer o.Destroy()
		if err := o.SetIntraOpNumThreads(b.cfg.IntraOpThreads); err != nil {
			return nil, err
		}
		opts = o
	}
	s, err := ort.NewDynamicAdvancedSession(h.path, names, h.outputs, opts)
	if err != nil {
		return nil, err
	}
	h.sessions[key] = s
	return s, nil
}

func (b *onnxBackend) Predict(ctx context.Context, hh Handle, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	h, ok := hh.(*onnxHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", hh)
	}
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		if _, known := h.inputs[n]; !known {
			return nil, fmt.Errorf("model %s has no input %q", h.path, n)
		}
		names = append(names, n)
	}
	sort.Strings(names)
	sess, err := b.session(h, names)
	if err != nil {
		return nil, err
	}

	// Every native value allocated below is destroyed before returning.
	ins := make([]ort.Value, 0, len(names))
	defer func() {
		for _, v := range ins {
			_ = v.Destroy()
		}
	}()
	for _, n := range names {
		v, err := toNative(inputs[n], h.inputs[n].DataType)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", n, err)
		}
		ins = append(ins, v)
	}
	outs := make([]ort.Value, len(h.outputs))
	defer func() {
		for _, v := range outs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sess.Run(ins, outs); err != nil {
		return nil, err
	}
	res := make(map[string]*Tensor, len(outs))
	for i, v := range outs {
		t, err := fromNative(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", h.outputs[i], err)
		}
		res[h.outputs[i]] = t
	}
	return res, nil
}

func (b *onnxBackend) Release(hh Handle) error {
	h, ok := hh.(*onnxHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", hh)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var errs []error
	for k, s := range h.sessions {
		if err := s.Destroy(); err != nil {
			errs = append(errs, err)
		}
		delete(h.sessions, k)
	}
	b.loaded.Add(-1)
	return errors.Join(errs...)
}

func (b *onnxBackend) NumLoaded() int { return int(b.loaded.Load()) }

func toNative(t *Tensor, want ort.TensorElementDataType) (ort.Value, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("unsupported input dtype %s", t.DType)
	}
	dims := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = int64(d)
	}
	shape := ort.NewShape(dims...)
	if want == ort.TensorElementDataTypeInt64 {
		wide := make([]int64, len(t.Int32))
		for i, v := range t.Int32 {
			wide[i] = int64(v)
		}
		return ort.NewTensor(shape, wide)
	}
	return ort.NewTensor(shape, append([]int32(nil), t.Int32...))
}

func fromNative(v ort.Value) (*Tensor, error) {
	ft, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
	dims := ft.GetShape()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	return NewFloat32(shape, append([]float32(nil), ft.GetData()...))
}
