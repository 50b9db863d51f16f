// Package api serves the run API and the live-updates websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/monitoring"
	"github.com/sells-group/coin-research/internal/provider"
)

// Submitter starts runs in the background. *pipeline.Runner satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req model.RunRequest) (string, error)
}

// JobView reads run history. *jobs.Registry satisfies it.
type JobView interface {
	Get(jobID string) (model.JobRecord, bool)
	Active() []model.JobRecord
	Completed(limit int) []model.JobRecord
}

// ProviderControl lists and toggles providers. *provider.Registry
// satisfies it.
type ProviderControl interface {
	Statuses() []provider.Status
	SetEnabled(name string, enabled bool) error
}

// Deps are the collaborators behind the routes. Live and Metrics are
// optional.
type Deps struct {
	Runner         Submitter
	Jobs           JobView
	Providers      ProviderControl
	Live           *Live
	Metrics        *monitoring.Collector
	LookbackHours  int
	AllowedOrigins []string
}

// Server holds the route handlers.
type Server struct {
	deps    Deps
	started time.Time
}

// NewServer creates a server over deps.
func NewServer(deps Deps) *Server {
	if deps.LookbackHours <= 0 {
		deps.LookbackHours = 24
	}
	return &Server{deps: deps, started: time.Now()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/status", s.status)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.createRun)
		r.Get("/", s.listRuns)
		r.Get("/{jobID}", s.getRun)
	})

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", s.listProviders)
		r.Put("/{name}", s.toggleProvider)
	})

	if s.deps.Live != nil {
		r.Get("/ws", s.deps.Live.ServeHTTP)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
