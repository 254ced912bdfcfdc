package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"qaworker/pkg/types"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr              string         `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir         string         `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Workers           int            `json:"workers" yaml:"workers" toml:"workers"`
	MaxInactiveTime   Duration       `json:"max_inactive_time" yaml:"max_inactive_time" toml:"max_inactive_time"`
	MaxResidentModels int            `json:"max_resident_models" yaml:"max_resident_models" toml:"max_resident_models"`
	InboxSize         int            `json:"inbox_size" yaml:"inbox_size" toml:"inbox_size"`
	Backend           string         `json:"backend" yaml:"backend" toml:"backend"`
	ONNXLibrary       string         `json:"onnx_library" yaml:"onnx_library" toml:"onnx_library"`
	LogLevel          string         `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins       []string       `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Preload           []PreloadModel `json:"preload" yaml:"preload" toml:"preload"`
}

// PreloadModel is a model placed on a worker at startup.
type PreloadModel struct {
	ModelID      string                      `json:"model_id" yaml:"model_id" toml:"model_id"`
	Path         string                      `json:"path" yaml:"path" toml:"path"`
	InputsNames  map[types.InputRole]string  `json:"inputs_names,omitempty" yaml:"inputs_names,omitempty" toml:"inputs_names,omitempty"`
	OutputsNames map[types.OutputRole]string `json:"outputs_names,omitempty" yaml:"outputs_names,omitempty" toml:"outputs_names,omitempty"`
}

// Params returns the model params, using the conventional tensor names for
// any role map left empty.
func (p PreloadModel) Params() types.ModelParams {
	out := types.DefaultModelParams(p.Path)
	if len(p.InputsNames) > 0 {
		out.InputsNames = p.InputsNames
	}
	if len(p.OutputsNames) > 0 {
		out.OutputsNames = p.OutputsNames
	}
	return out.Clone()
}

// Duration is a time.Duration written as a Go duration string ("90s", "5m").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	for i, p := range cfg.Preload {
		if p.Path == "" {
			return cfg, fmt.Errorf("preload[%d]: path is required", i)
		}
	}
	return cfg, nil
}
