// Package pool is the coordinator side of the worker protocol.
//
// A Pool owns a bounded set of workers and hides the message contract from its
// callers:
//   - pool.go: construction, lifecycle (Start/Close), model registration, status.
//   - slot.go: one worker plus the goroutine that drains its outbound channels.
//   - route.go: on-demand loading, placement lookup and Infer correlation.
//   - errors.go: typed errors and predicates.
//   - metrics.go: Prometheus collectors for placements and teardowns.
//
// Placements (model id -> worker) live in a bounded LRU. Evicting a placement
// sends unload to the owning worker. An idle kill request from a worker retires
// it; a replacement is spawned the next time a model needs a home.
package pool
