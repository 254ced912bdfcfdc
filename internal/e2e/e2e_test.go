package e2e

import (
	"net/http"
	"reflect"
	"testing"

	"qaworker/internal/adminapi"
	"qaworker/internal/pool"
	"qaworker/internal/transport"
	"qaworker/pkg/types"
)

var question = types.Inputs{
	IDs:           [][]int32{{101, 2054, 102}},
	AttentionMask: [][]int32{{1, 1, 1}},
}

// TestE2E_RegistryPoolAdmin drives a scanned registry through the pool and
// observes placements through the admin API.
func TestE2E_RegistryPoolAdmin(t *testing.T) {
	dir := createTempModelsDir(t, []string{"alpha"}, []string{"beta"})
	srv, p := newServerForDir(t, dir, pool.Config{Workers: 2, MaxResident: 4})

	resp, _ := httpDo(t, http.MethodGet, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}

	var models adminapi.ModelsResponse
	getJSON(t, srv.URL+"/models", &models)
	if !reflect.DeepEqual(models.Registered, []string{"alpha", "beta"}) {
		t.Fatalf("registered = %v", models.Registered)
	}
	if len(models.Resident) != 0 {
		t.Fatalf("resident before use = %v", models.Resident)
	}

	res, err := p.Infer(testCtx(t), "beta", question)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	want := [][]float32{{101.5, 2054.5, 102.5}}
	if !reflect.DeepEqual(res.StartLogits, want) {
		t.Fatalf("start logits = %v", res.StartLogits)
	}

	getJSON(t, srv.URL+"/models", &models)
	if !reflect.DeepEqual(models.Resident, []string{"beta"}) {
		t.Fatalf("resident after infer = %v", models.Resident)
	}

	var st types.StatusResponse
	getJSON(t, srv.URL+"/status", &st)
	if len(st.Workers) != 1 {
		t.Fatalf("workers = %d", len(st.Workers))
	}

	resp, _ = httpDo(t, http.MethodDelete, srv.URL+"/models/beta")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unload: %d", resp.StatusCode)
	}
	resp, _ = httpDo(t, http.MethodDelete, srv.URL+"/models/beta")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second unload: %d", resp.StatusCode)
	}
	eventually(t, func() bool {
		for _, w := range p.Status().Workers {
			if len(w.Models) != 0 {
				return false
			}
		}
		return true
	}, "worker released beta")

	if _, err := p.Infer(testCtx(t), "gamma", question); !pool.IsUnknownModel(err) {
		t.Fatalf("unregistered model: %v", err)
	}
}

// TestE2E_WorkerSocket speaks the worker protocol over the admin server's socket.
func TestE2E_WorkerSocket(t *testing.T) {
	dir := createTempModelsDir(t, []string{"alpha"}, nil)
	srv, _ := newServerForDir(t, dir, pool.Config{})

	c, err := transport.Dial(testCtx(t), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ack, err := c.Load(testCtx(t), "qa-v1", types.DefaultModelParams("/models/qa-v1.onnx"))
	if err != nil || ack.Error != nil {
		t.Fatalf("load: %v %v", err, ack.Error)
	}
	res, err := c.Infer(testCtx(t), types.InferenceRequest{RequestID: 7, ModelID: "qa-v1", Inputs: question})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if res.RequestID != 7 || res.Error != nil {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(res.EndLogits, [][]float32{{100.5, 2053.5, 101.5}}) {
		t.Fatalf("end logits = %v", res.EndLogits)
	}

	res, err = c.Infer(testCtx(t), types.InferenceRequest{RequestID: 8, ModelID: "missing", Inputs: question})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if res.Error == nil || res.Error.Kind != types.ErrorKindLookup {
		t.Fatalf("expected lookup error, got %+v", res)
	}
}
