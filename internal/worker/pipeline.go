package worker

import (
	"context"
	"fmt"

	"qaworker/internal/backend"
	"qaworker/pkg/types"
)

// runInference resolves modelID, builds the named input tensors, calls the
// backend and returns start/end logits with exactly one row per example.
func (w *Worker) runInference(ctx context.Context, modelID string, in types.Inputs) ([][]float32, [][]float32, error) {
	entry, release, ok := w.cache.acquire(modelID)
	if !ok {
		return nil, nil, ErrModelNotFound(modelID)
	}
	defer release()

	named, n, err := buildInputs(entry.params, in)
	if err != nil {
		return nil, nil, err
	}

	outs, err := w.backend.Predict(ctx, entry.handle, named)
	if err != nil {
		return nil, nil, computeError{err: err}
	}
	start, err := readLogits(entry.params, outs, types.OutputStartLogits, n)
	if err != nil {
		return nil, nil, err
	}
	end, err := readLogits(entry.params, outs, types.OutputEndLogits, n)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// buildInputs validates the batch and maps it onto the model's native input
// names. Token type ids are only forwarded when the model declares that input.
func buildInputs(p types.ModelParams, in types.Inputs) (map[string]*backend.Tensor, int, error) {
	ids, err := backend.FromInt32Rows(in.IDs)
	if err != nil {
		return nil, 0, errShape("ids: %v", err)
	}
	mask, err := backend.FromInt32Rows(in.AttentionMask)
	if err != nil {
		return nil, 0, errShape("attention mask: %v", err)
	}
	if !sameShape(ids, mask) {
		return nil, 0, errShape("attention mask shape %v does not match ids shape %v", mask.Shape, ids.Shape)
	}

	idsName, ok := p.InputName(types.InputIDs)
	if !ok {
		return nil, 0, errShape("model declares no %s input", types.InputIDs)
	}
	maskName, ok := p.InputName(types.InputAttentionMask)
	if !ok {
		return nil, 0, errShape("model declares no %s input", types.InputAttentionMask)
	}
	named := map[string]*backend.Tensor{idsName: ids, maskName: mask}

	if len(in.TokenTypeIDs) > 0 {
		if ttName, ok := p.InputName(types.InputTokenTypeIDs); ok {
			tt, err := backend.FromInt32Rows(in.TokenTypeIDs)
			if err != nil {
				return nil, 0, errShape("token type ids: %v", err)
			}
			if !sameShape(ids, tt) {
				return nil, 0, errShape("token type ids shape %v does not match ids shape %v", tt.Shape, ids.Shape)
			}
			named[ttName] = tt
		}
	}
	return named, len(in.IDs), nil
}

func readLogits(p types.ModelParams, outs map[string]*backend.Tensor, role types.OutputRole, n int) ([][]float32, error) {
	name, ok := p.OutputName(role)
	if !ok {
		return nil, errShape("model declares no %s output", role)
	}
	t, ok := outs[name]
	if !ok || t == nil {
		return nil, computeError{err: fmt.Errorf("backend returned no output %q", name)}
	}
	rows, err := t.BatchRows(n)
	if err != nil {
		return nil, computeError{err: fmt.Errorf("%s: %w", name, err)}
	}
	return rows, nil
}

func sameShape(a, b *backend.Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}
