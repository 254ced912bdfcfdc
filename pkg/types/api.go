package types

import "time"

// MessageType tags every message exchanged between a coordinator and a worker.
type MessageType string

const (
	MsgInit   MessageType = "init"
	MsgLoad   MessageType = "load"
	MsgLoaded MessageType = "loaded"
	MsgInfer  MessageType = "infer"
	MsgResult MessageType = "result"
	MsgUnload MessageType = "unload"
	MsgKill   MessageType = "kill"
)

// Message is the envelope carried on a worker inbox and over the websocket
// transport. Only the fields relevant to Type are set.
type Message struct {
	Type MessageType `json:"type"`

	// load / unload
	ModelID string       `json:"model_id,omitempty"`
	Params  *ModelParams `json:"params,omitempty"`

	// infer
	Request *InferenceRequest `json:"request,omitempty"`

	// Worker -> coordinator payloads (websocket only).
	Loaded *Loaded          `json:"loaded,omitempty"`
	Result *InferenceResult `json:"result,omitempty"`
	Evict  *EvictRequest    `json:"evict,omitempty"`

	// Ports is set on init. Channel references never leave the process.
	Ports any `json:"-"`
}

// Inputs is one encoded batch. Every row of IDs, AttentionMask and (when
// present) TokenTypeIDs has the same length.
type Inputs struct {
	IDs           [][]int32 `json:"ids"`
	AttentionMask [][]int32 `json:"attention_mask"`
	TokenTypeIDs  [][]int32 `json:"token_type_ids,omitempty"`
}

// InferenceRequest asks a worker to run one batch against a resident model.
type InferenceRequest struct {
	// Caller-assigned correlation key, echoed back unchanged.
	// example: 7
	RequestID int64 `json:"request_id" example:"7"`
	// Identifier of a model previously loaded into the receiving worker.
	// example: qa-v1
	ModelID string `json:"model_id" example:"qa-v1"`
	Inputs  Inputs `json:"inputs"`
}

// ErrorKind classifies a failure reported on the wire.
type ErrorKind string

const (
	ErrorKindLoad     ErrorKind = "load"
	ErrorKindLookup   ErrorKind = "lookup"
	ErrorKindShape    ErrorKind = "shape"
	ErrorKindCompute  ErrorKind = "compute"
	ErrorKindInternal ErrorKind = "internal"
)

// ErrorInfo is the serializable form of a worker-side error.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorInfo) Error() string { return string(e.Kind) + ": " + e.Message }

// InferenceResult carries either logits or an error for one request, never both.
type InferenceResult struct {
	RequestID   int64       `json:"request_id"`
	StartLogits [][]float32 `json:"start_logits,omitempty"`
	EndLogits   [][]float32 `json:"end_logits,omitempty"`
	Error       *ErrorInfo  `json:"error,omitempty"`
}

// OK reports whether the result carries logits.
func (r InferenceResult) OK() bool { return r.Error == nil }

// Loaded acknowledges a load (or unload) for ModelID. Error is set when the
// backend refused the model.
type Loaded struct {
	ModelID  string     `json:"model_id"`
	Unloaded bool       `json:"unloaded,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// EvictRequest tells the coordinator a worker has been idle long enough to be
// torn down.
type EvictRequest struct {
	WorkerID string        `json:"worker_id"`
	IdleFor  time.Duration `json:"idle_for"`
}

// ModelStatus summarizes one resident model.
type ModelStatus struct {
	// example: qa-v1
	ModelID string `json:"model_id" example:"qa-v1"`
	// example: /models/qa-v1/model.onnx
	Path string `json:"path" example:"/models/qa-v1/model.onnx"`
	// Number of inferences currently holding this model.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Load completion time (unix seconds).
	LoadedAt int64 `json:"loaded_at_unix"`
}

// WorkerStatus summarizes one worker for /status.
type WorkerStatus struct {
	// example: 2f1c6a1e-...
	WorkerID string `json:"worker_id"`
	// One of uninitialized, ready, active, busy.
	// example: active
	State string `json:"state" example:"active"`
	// example: 0
	Inflight int64         `json:"inflight" example:"0"`
	Models   []ModelStatus `json:"models"`
	// Models currently being loaded.
	Loading []string `json:"loading,omitempty"`
	// Last inference completion (unix seconds).
	LastActivity int64 `json:"last_activity_unix"`
	// Loaded handle count reported by the backend.
	BackendLoaded int `json:"backend_loaded"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Workers []WorkerStatus `json:"workers"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total worker teardowns triggered by idle eviction requests.
	EvictionsTotal uint64 `json:"evictions_total"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: not ready
	Error string `json:"error" example:"not ready"`
	// example: 503
	Code int `json:"code" example:"503"`
}
