// Package worker implements a model-serving worker: an isolated unit that holds
// a private model cache and answers load/infer/unload messages from a
// coordinator. It is structured into small files by concern:
//
//   - worker.go: Worker type, constructor, receive loop and message dispatch.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: State and Ports.
//   - errors.go: error taxonomy and helpers (IsLoadError, IsModelNotFound, ...).
//   - cache.go: ModelCache, the id -> (handle, params) map owned by one worker.
//   - load.go: load/unload handling, including coalescing of duplicate loads.
//   - infer.go: request boundary; turns every outcome into one InferenceResult.
//   - pipeline.go: tensor assembly, backend call and logits normalization.
//   - idle.go: inactivity tracking and the kill (evict-request) signal.
//   - events.go, eventpub_memory.go: lifecycle event hook.
//   - metrics.go: Prometheus collectors.
//   - status.go: Status snapshot.
//
// A coordinator must send init before any other message. Results are delivered
// in completion order; callers correlate them by request id only.
package worker
