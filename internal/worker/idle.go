package worker

import (
	"time"

	"qaworker/pkg/types"
)

func (w *Worker) touch() { w.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns the time of the last infer completion (or Run start).
func (w *Worker) LastActivity() time.Time { return time.Unix(0, w.lastActivity.Load()) }

// checkIdle emits one kill request per idle period. A period ends when an
// inference completes and moves lastActivity forward.
func (w *Worker) checkIdle(now time.Time) bool {
	if w.cfg.MaxInactiveTime <= 0 || w.inflight.Load() > 0 {
		return false
	}
	last := w.lastActivity.Load()
	if last == w.idleSignaledAt {
		return false
	}
	idle := now.Sub(time.Unix(0, last))
	if idle < w.cfg.MaxInactiveTime {
		return false
	}
	ports := w.currentPorts()
	if ports == nil || ports.Control == nil {
		// Nobody to tell; remember the period so the log is not repeated.
		w.idleSignaledAt = last
		w.log.Debug().Dur("idle", idle).Msg("idle past threshold, no control channel")
		return false
	}
	select {
	case ports.Control <- types.EvictRequest{WorkerID: w.id, IdleFor: idle}:
	default:
		// Coordinator is not draining control; retry on the next tick.
		w.log.Warn().Dur("idle", idle).Msg("control channel full, kill request deferred")
		return false
	}
	w.idleSignaledAt = last
	evictRequestsTotal.Inc()
	w.log.Info().Str("event", "evict_request").Dur("idle", idle).Msg("worker idle, requesting teardown")
	w.publisher.Publish(Event{Name: "evict_request", WorkerID: w.id, Fields: map[string]any{"idle_ms": int(idle / time.Millisecond)}})
	return true
}
