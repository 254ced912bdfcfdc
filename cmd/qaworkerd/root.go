package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"qaworker/internal/config"
)

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "qaworkerd",
		Short:         "Question-answering model worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", config.EnvStr("QAWORKER_CONFIG", ""), "Config file (.yaml/.yml/.json/.toml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", config.EnvStr("QAWORKER_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", config.EnvStr("QAWORKER_LOG_JSON", "") == "1", "Emit JSON logs instead of console output")

	root.AddCommand(newServeCmd(g), newCheckCmd(g), newInferCmd(), newVersionCmd())
	return root
}

// loadConfig reads the config file when one was given.
func (g *globalOpts) loadConfig() (config.Config, error) {
	if g.configPath == "" {
		return config.Config{}, nil
	}
	return config.Load(g.configPath)
}

// newLogger builds the process logger. A config file log_level applies when
// the flag was left at its default.
func (g *globalOpts) newLogger(w io.Writer, cmd *cobra.Command, fileLevel string) zerolog.Logger {
	level := g.logLevel
	if f := cmd.Flags().Lookup("log-level"); f != nil && !f.Changed && fileLevel != "" {
		level = fileLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if !g.logJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "qaworkerd", version)
			return err
		},
	}
}
