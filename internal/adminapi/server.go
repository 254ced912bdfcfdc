package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qaworker/internal/transport"
	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

// Service defines the methods required by the admin HTTP layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	// Models returns registered model ids; Resident those placed on a worker.
	Models() []string
	Resident() []string
	Unload(id string) bool
	// NewWorker builds an unstarted worker for a remote coordinator connection.
	NewWorker() (*worker.Worker, error)
}

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	Registered []string `json:"registered"`
	Resident   []string `json:"resident"`
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Accept", "Content-Type", "X-Request-Id"}),
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Upgrades must not go through the compressor.
	r.Get("/ws/worker", workerSocket(svc))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, ModelsResponse{Registered: nonNil(svc.Models()), Resident: nonNil(svc.Resident())})
		})

		r.Delete("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if !svc.Unload(id) {
				writeJSONError(w, http.StatusNotFound, "model not resident: "+id)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if svc.Ready() {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ready"))
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
		})

		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	return r
}

// workerSocket bridges one websocket to one fresh worker.
func workerSocket(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		wk, err := svc.NewWorker()
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		conn, err := transport.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			return
		}
		wsConnections.Inc()
		defer wsConnections.Dec()

		ctx, cancel := connContext(r.Context())
		defer cancel()
		start := time.Now()
		err = transport.NewBridge(conn, wk, zlog).Run(ctx)
		if zlog != nil {
			z := zlog.Info().Str("worker_id", wk.ID()).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.AnErr("error", err).Msg("worker connection closed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
