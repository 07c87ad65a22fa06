package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// Server holds shared state for all API handlers.
type Server struct {
	Profile  *models.Profile
	Client   *platform.Client
	Executor *platform.Executor
	Waiter   *platform.Waiter
	Metrics  *metrics.Recorder
	Jobs     *models.JobStore
	Logger   *slog.Logger
	PageSize int

	// slot admits one mutating job at a time.
	slotOnce sync.Once
	slot     chan struct{}
}

func (s *Server) mutationSlot() chan struct{} {
	s.slotOnce.Do(func() { s.slot = make(chan struct{}, 1) })
	return s.slot
}

// NewRouter builds the chi router with all API routes, the log stream and /metrics.
func NewRouter(s *Server, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger()))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Connection
		r.Get("/connection", s.GetConnection)
		r.Get("/kinds", s.ListKinds)

		// Resource browsing
		r.Get("/resources/{kind}", s.ListResourcesOfKind)
		r.Get("/resources/{kind}/plan", s.PlanDeletion)

		// Operations (async)
		r.Post("/delete-tree", s.RunDeleteTree)
		r.Post("/move", s.RunMove)
		r.Post("/delete-parameters", s.RunDeleteParameters)
		r.Post("/populate", s.RunPopulate)
		r.Post("/delete-integrations", s.RunDeleteIntegrations)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"bytes", ww.BytesWritten(), "elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
