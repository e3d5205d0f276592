package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"field-service-backend/internal/config"
	"field-service-backend/internal/lifecycle"
	"field-service-backend/internal/models"
	"field-service-backend/internal/ratelimit"
	"field-service-backend/internal/telemetry"
)

// Lifecycle is the slice of the orchestrator the HTTP layer needs.
type Lifecycle interface {
	Transition(ctx context.Context, jobID string, to models.Status, req lifecycle.TransitionRequest) (lifecycle.TransitionResult, error)
	History(ctx context.Context, jobID string) ([]models.StateTransition, error)
	AllowedTransitionsFor(ctx context.Context, jobID string) (lifecycle.TransitionOptions, error)
}

// JobReader resolves jobs for the read endpoint.
type JobReader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
}

// Server wires HTTP handlers for the job lifecycle API.
type Server struct {
	cfg     config.Config
	machine Lifecycle
	jobs    JobReader
	limiter *ratelimit.TokenBucket
	log     *zap.Logger
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, machine Lifecycle, jobs JobReader, limiter *ratelimit.TokenBucket, log *zap.Logger) *Server {
	return &Server{cfg: cfg, machine: machine, jobs: jobs, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/transition", s.handleTransition)
	r.Get("/jobs/{id}/history", s.handleHistory)
	r.Get("/jobs/{id}/transitions", s.handleAllowedTransitions)
	return r
}

type transitionRequest struct {
	To        string         `json:"to"`
	Actor     string         `json:"actor"`
	ActorRole string         `json:"actor_role"`
	Source    string         `json:"source"`
	Reason    string         `json:"reason"`
	Notes     string         `json:"notes"`
	Metadata  map[string]any `json:"metadata"`
	Updates   map[string]any `json:"updates"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, lifecycle.TransitionResult{Errors: []string{"invalid json"}})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, lifecycle.TransitionResult{Errors: []string{"to is required"}})
		return
	}

	if s.limiter != nil && req.Actor != "" {
		allowed, err := s.limiter.AllowActor(r.Context(), req.Actor)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, lifecycle.TransitionResult{Errors: []string{"rate limited"}})
			return
		}
	}

	result, err := s.machine.Transition(r.Context(), jobID, models.Status(req.To), lifecycle.TransitionRequest{
		Actor:     req.Actor,
		ActorRole: req.ActorRole,
		Source:    req.Source,
		Reason:    req.Reason,
		Notes:     req.Notes,
		Metadata:  req.Metadata,
		Updates:   req.Updates,
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrLockTimeout) {
			writeJSON(w, http.StatusServiceUnavailable, lifecycle.TransitionResult{Errors: []string{"busy, retry"}})
			return
		}
		s.log.Error("transition failed", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, lifecycle.TransitionResult{Errors: []string{"internal error"}})
		return
	}
	if !result.OK {
		status := http.StatusUnprocessableEntity
		if len(result.Errors) == 1 && result.Errors[0] == "Job not found" {
			status = http.StatusNotFound
		}
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.machine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.machine.AllowedTransitionsFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
