package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"qaworker/internal/common/fsutil"
	"qaworker/pkg/types"
)

const (
	modelExt      = ".onnx"
	sidecarSuffix = ".params.yaml"
	// dirModelFile and dirSidecar are looked up inside per-model directories.
	dirModelFile = "model.onnx"
	dirSidecar   = "params.yaml"
)

// Entry is a model discovered on disk.
type Entry struct {
	ID     string
	Params types.ModelParams
}

// sidecar overrides the id and tensor names of a discovered model.
type sidecar struct {
	ModelID      string                      `yaml:"model_id"`
	InputsNames  map[types.InputRole]string  `yaml:"inputs_names"`
	OutputsNames map[types.OutputRole]string `yaml:"outputs_names"`
}

// LoadDir scans dir for models. Two layouts are recognized:
//
//	<dir>/<name>.onnx        with optional <dir>/<name>.params.yaml
//	<dir>/<name>/model.onnx  with optional <dir>/<name>/params.yaml
//
// The id defaults to <name>; tensor names default to the conventional
// input_ids/attention_mask -> start_logits/end_logits. Entries are sorted by id.
func LoadDir(dir string) ([]Entry, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Entry
	seen := make(map[string]string)
	for _, e := range dirEntries {
		var name, modelPath, sidecarPath string
		switch {
		case e.IsDir():
			modelPath = filepath.Join(abs, e.Name(), dirModelFile)
			if !fsutil.IsFile(modelPath) {
				continue
			}
			name = e.Name()
			sidecarPath = filepath.Join(abs, e.Name(), dirSidecar)
		case strings.EqualFold(filepath.Ext(e.Name()), modelExt):
			name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			modelPath = filepath.Join(abs, e.Name())
			sidecarPath = filepath.Join(abs, name+sidecarSuffix)
		default:
			continue
		}
		entry, err := buildEntry(name, modelPath, sidecarPath)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q: %s and %s", entry.ID, prev, modelPath)
		}
		seen[entry.ID] = modelPath
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func buildEntry(name, modelPath, sidecarPath string) (Entry, error) {
	entry := Entry{ID: name, Params: types.DefaultModelParams(modelPath)}
	if !fsutil.IsFile(sidecarPath) {
		return entry, nil
	}
	b, err := os.ReadFile(sidecarPath)
	if err != nil {
		return Entry{}, fmt.Errorf("read sidecar: %w", err)
	}
	var sc sidecar
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", sidecarPath, err)
	}
	if sc.ModelID != "" {
		entry.ID = sc.ModelID
	}
	if len(sc.InputsNames) > 0 {
		entry.Params.InputsNames = sc.InputsNames
	}
	if len(sc.OutputsNames) > 0 {
		entry.Params.OutputsNames = sc.OutputsNames
	}
	return entry, nil
}
