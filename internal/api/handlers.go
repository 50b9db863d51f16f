package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/coin-research/internal/model"
	"github.com/sells-group/coin-research/internal/monitoring"
	"github.com/sells-group/coin-research/internal/provider"
)

const (
	defaultListLimit = 20
	statusRecentJobs = 10
)

type statusResponse struct {
	Status       string                      `json:"status"`
	UptimeSecs   float64                     `json:"uptime_secs"`
	ActiveJobs   []model.JobRecord           `json:"active_jobs"`
	RecentJobs   []model.JobRecord           `json:"recent_jobs"`
	LiveSessions int                         `json:"live_sessions"`
	Providers    []provider.Status           `json:"providers"`
	Metrics      *monitoring.MetricsSnapshot `json:"metrics,omitempty"`
}

type runAccepted struct {
	JobID     string `json:"job_id"`
	SubjectID string `json:"subject_id"`
	Status    string `json:"status"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		UptimeSecs: time.Since(s.started).Seconds(),
		ActiveJobs: s.deps.Jobs.Active(),
		RecentJobs: s.deps.Jobs.Completed(statusRecentJobs),
		Providers:  s.deps.Providers.Statuses(),
	}
	if s.deps.Live != nil {
		resp.LiveSessions = s.deps.Live.Sessions()
	}
	if s.deps.Metrics != nil {
		resp.Metrics = s.deps.Metrics.Collect(s.deps.LookbackHours)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	jobID, err := s.deps.Runner.Submit(r.Context(), req)
	if err != nil {
		zap.L().Error("api: run not submitted", zap.String("subject", req.Subject), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, runAccepted{JobID: jobID, SubjectID: req.Subject, Status: string(model.JobRunning)})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	status := model.JobStatus(r.URL.Query().Get("status"))

	var out []model.JobRecord
	if status == "" || status == model.JobRunning {
		out = append(out, s.deps.Jobs.Active()...)
	}
	if status != model.JobRunning {
		for _, job := range s.deps.Jobs.Completed(0) {
			if status == "" || job.Status == status {
				out = append(out, job)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []model.JobRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.deps.Jobs.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Providers.Statuses())
}

func (s *Server) toggleProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	if err := s.deps.Providers.SetEnabled(name, *req.Enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	zap.L().Info("api: provider toggled", zap.String("provider", name), zap.Bool("enabled", *req.Enabled))

	for _, st := range s.deps.Providers.Statuses() {
		if st.Name == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, "provider not found")
}
