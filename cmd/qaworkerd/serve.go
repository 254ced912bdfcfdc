package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"qaworker/internal/adminapi"
	"qaworker/internal/backend"
	"qaworker/internal/common/fsutil"
	"qaworker/internal/config"
	"qaworker/internal/pool"
	"qaworker/internal/registry"
	"qaworker/internal/worker"
)

// serveOpts are the serve flags. Values from a config file fill in whatever
// was not set explicitly on the command line.
type serveOpts struct {
	addr            string
	modelsDir       string
	workers         int
	maxInactiveTime time.Duration
	maxResident     int
	inboxSize       int
	backend         string
	onnxLibrary     string
	corsOrigins     string
}

func newServeCmd(g *globalOpts) *cobra.Command {
	o := &serveOpts{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool and admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			o.merge(cmd, cfg)
			log := g.newLogger(cmd.ErrOrStderr(), cmd, cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, o, cfg.Preload, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", config.EnvStr("QAWORKER_ADDR", ":8080"), "Admin HTTP listen address")
	f.StringVar(&o.modelsDir, "models-dir", config.EnvStr("QAWORKER_MODELS_DIR", ""), "Directory to scan for *.onnx models")
	f.IntVar(&o.workers, "workers", config.EnvInt("QAWORKER_WORKERS", 1), "Maximum live workers")
	f.DurationVar(&o.maxInactiveTime, "max-inactive-time", config.EnvDuration("QAWORKER_MAX_INACTIVE_TIME", 60*time.Second), "Idle time before a worker asks to be retired (negative disables)")
	f.IntVar(&o.maxResident, "max-resident-models", config.EnvInt("QAWORKER_MAX_RESIDENT_MODELS", 16), "Maximum models resident across workers")
	f.IntVar(&o.inboxSize, "inbox-size", config.EnvInt("QAWORKER_INBOX_SIZE", 64), "Per-worker message buffer")
	f.StringVar(&o.backend, "backend", config.EnvStr("QAWORKER_BACKEND", "onnx"), "Inference backend: onnx")
	f.StringVar(&o.onnxLibrary, "onnx-library", config.EnvStr("QAWORKER_ONNX_LIBRARY", ""), "Path to libonnxruntime (empty uses the loader search path)")
	f.StringVar(&o.corsOrigins, "cors-origins", config.EnvStr("QAWORKER_CORS_ORIGINS", ""), "Comma-separated origins allowed by CORS (empty disables)")
	return cmd
}

// merge copies config file values into options whose flags were not set.
func (o *serveOpts) merge(cmd *cobra.Command, cfg config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if !changed("addr") && cfg.Addr != "" {
		o.addr = cfg.Addr
	}
	if !changed("models-dir") && cfg.ModelsDir != "" {
		o.modelsDir = cfg.ModelsDir
	}
	if !changed("workers") && cfg.Workers > 0 {
		o.workers = cfg.Workers
	}
	if !changed("max-inactive-time") && cfg.MaxInactiveTime != 0 {
		o.maxInactiveTime = time.Duration(cfg.MaxInactiveTime)
	}
	if !changed("max-resident-models") && cfg.MaxResidentModels > 0 {
		o.maxResident = cfg.MaxResidentModels
	}
	if !changed("inbox-size") && cfg.InboxSize > 0 {
		o.inboxSize = cfg.InboxSize
	}
	if !changed("backend") && cfg.Backend != "" {
		o.backend = cfg.Backend
	}
	if !changed("onnx-library") && cfg.ONNXLibrary != "" {
		o.onnxLibrary = cfg.ONNXLibrary
	}
	if !changed("cors-origins") && len(cfg.CORSOrigins) > 0 {
		o.corsOrigins = joinCSV(cfg.CORSOrigins)
	}
}

// backendFactory resolves the backend name to a constructor.
func (o *serveOpts) backendFactory() (func() (backend.Backend, error), error) {
	switch o.backend {
	case "onnx", "":
		cfg := backend.ONNXConfig{SharedLibrary: o.onnxLibrary}
		return func() (backend.Backend, error) { return backend.NewONNX(cfg) }, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", o.backend)
	}
}

func (o *serveOpts) workerConfig(log *zerolog.Logger) worker.Config {
	return worker.Config{
		Logger:          log,
		InboxSize:       o.inboxSize,
		MaxInactiveTime: o.maxInactiveTime,
	}
}

func runServe(ctx context.Context, o *serveOpts, preload []config.PreloadModel, log zerolog.Logger) error {
	newBackend, err := o.backendFactory()
	if err != nil {
		return err
	}
	if rep := backend.SanityCheck(backend.ONNXConfig{SharedLibrary: o.onnxLibrary}); rep.Error != "" {
		log.Warn().Str("event", "sanity").Str("error", rep.Error).Msg("backend sanity check failed; loads will fail")
	}

	p, err := pool.New(pool.Config{
		Workers:     o.workers,
		MaxResident: o.maxResident,
		NewBackend:  newBackend,
		Worker:      o.workerConfig(&log),
		Logger:      &log,
	})
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	if o.modelsDir != "" {
		if dir, err := fsutil.ResolveDir(o.modelsDir); err == nil && fsutil.PathExists(dir) {
			entries, err := registry.LoadDir(dir)
			if err != nil {
				return fmt.Errorf("scan models: %w", err)
			}
			for _, e := range entries {
				p.Register(e.ID, e.Params)
			}
			log.Info().Str("models_dir", dir).Int("models", len(entries)).Msg("registry loaded")
		} else {
			log.Warn().Str("models_dir", o.modelsDir).Msg("models dir not found, registry empty")
		}
	}
	for _, m := range preload {
		id := m.ModelID
		if id == "" {
			id = m.Path
		}
		if err := p.Preload(ctx, id, m.Params()); err != nil {
			log.Error().Err(err).Str("model", id).Msg("preload failed")
			continue
		}
		log.Info().Str("model", id).Msg("preloaded")
	}

	svc := &service{pool: p, newBackend: newBackend, workerCfg: o.workerConfig(&log)}
	adminapi.SetLogger(log)
	adminapi.SetBaseContext(ctx)
	if origins := config.SplitCSV(o.corsOrigins); len(origins) > 0 {
		adminapi.SetCORSOptions(true, origins, nil, nil)
	}
	srv := &http.Server{
		Addr:              o.addr,
		Handler:           adminapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", o.addr).Int("workers", o.workers).Str("backend", o.backend).Msg("qaworkerd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := p.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pool close")
	}
	return serveErr
}
