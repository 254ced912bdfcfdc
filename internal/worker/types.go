package worker

import "qaworker/pkg/types"

// State is the externally observable lifecycle state of a worker.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateActive        State = "active"
	StateBusy          State = "busy"
)

// Ports are the outbound channels a coordinator hands to a worker on init.
// Loaded and Results are required. Control receives kill requests and may be nil
// when the coordinator does not want idle signals.
type Ports struct {
	Loaded  chan<- types.Loaded
	Results chan<- types.InferenceResult
	Control chan<- types.EvictRequest
}

// InitMessage builds the init message carrying p.
func InitMessage(p Ports) types.Message {
	return types.Message{Type: types.MsgInit, Ports: p}
}

// LoadMessage builds a load message for params. An empty id defaults to params.Path.
func LoadMessage(id string, params types.ModelParams) types.Message {
	return types.Message{Type: types.MsgLoad, ModelID: id, Params: &params}
}

// InferMessage builds an infer message for req.
func InferMessage(req types.InferenceRequest) types.Message {
	return types.Message{Type: types.MsgInfer, Request: &req}
}

// UnloadMessage builds an unload message for id.
func UnloadMessage(id string) types.Message {
	return types.Message{Type: types.MsgUnload, ModelID: id}
}
