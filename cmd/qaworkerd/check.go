package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"qaworker/internal/backend"
	"qaworker/internal/config"
	"qaworker/internal/registry"
)

// checkReport is printed by the check command.
type checkReport struct {
	Backend backend.SanityReport `json:"backend"`
	Models  []checkModel         `json:"models,omitempty"`
}

type checkModel struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func newCheckCmd(g *globalOpts) *cobra.Command {
	var onnxLibrary, modelsDir string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report backend availability and discovered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if !cmd.Flags().Changed("onnx-library") && cfg.ONNXLibrary != "" {
				onnxLibrary = cfg.ONNXLibrary
			}
			if !cmd.Flags().Changed("models-dir") && cfg.ModelsDir != "" {
				modelsDir = cfg.ModelsDir
			}
			rep := checkReport{Backend: backend.SanityCheck(backend.ONNXConfig{SharedLibrary: onnxLibrary})}
			if modelsDir != "" {
				entries, err := registry.LoadDir(modelsDir)
				if err != nil {
					return fmt.Errorf("scan models: %w", err)
				}
				for _, e := range entries {
					rep.Models = append(rep.Models, checkModel{ID: e.ID, Path: e.Params.Path})
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Backend.Error != "" {
				return fmt.Errorf("backend not usable: %s", rep.Backend.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&onnxLibrary, "onnx-library", config.EnvStr("QAWORKER_ONNX_LIBRARY", ""), "Path to libonnxruntime")
	cmd.Flags().StringVar(&modelsDir, "models-dir", config.EnvStr("QAWORKER_MODELS_DIR", ""), "Directory to scan for *.onnx models")
	return cmd
}
