package worker

import (
	"context"
	"fmt"
	"time"

	"qaworker/pkg/types"
)

// beginRequest marks one request in flight. Called on the receive loop so the
// worker reports busy as soon as the message is accepted.
func (w *Worker) beginRequest() {
	w.inflight.Add(1)
	inflightGauge.Inc()
}

// endRequest refreshes the activity clock and releases the in-flight slot.
func (w *Worker) endRequest() {
	w.touch()
	w.inflight.Add(-1)
	inflightGauge.Dec()
}

// handleInfer is the request boundary: whatever happens, exactly one result
// tagged with req.RequestID is emitted.
func (w *Worker) handleInfer(ctx context.Context, ports *Ports, req types.InferenceRequest) {
	start := time.Now()
	res := w.serve(ctx, req)
	w.endRequest()

	outcome := "ok"
	if res.Error != nil {
		outcome = string(res.Error.Kind)
		w.log.Warn().Str("event", "infer_error").Int64("request_id", req.RequestID).
			Str("model", req.ModelID).Str("kind", outcome).Msg(res.Error.Message)
		w.publisher.Publish(Event{Name: "infer_error", WorkerID: w.id, ModelID: req.ModelID,
			Fields: map[string]any{"request_id": req.RequestID, "kind": outcome}})
	}
	inferTotal.WithLabelValues(outcome).Inc()
	inferDuration.Observe(time.Since(start).Seconds())

	select {
	case ports.Results <- res:
	case <-ctx.Done():
		w.log.Warn().Int64("request_id", req.RequestID).Msg("result dropped on shutdown")
	}
}

func (w *Worker) serve(ctx context.Context, req types.InferenceRequest) (res types.InferenceResult) {
	res.RequestID = req.RequestID
	defer func() {
		if r := recover(); r != nil {
			res = types.InferenceResult{
				RequestID: req.RequestID,
				Error:     &types.ErrorInfo{Kind: types.ErrorKindInternal, Message: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()
	start, end, err := w.runInference(ctx, req.ModelID, req.Inputs)
	if err != nil {
		res.Error = errorInfo(err)
		return res
	}
	res.StartLogits = start
	res.EndLogits = end
	return res
}
