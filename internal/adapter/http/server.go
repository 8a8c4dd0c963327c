// Package http is the HTTP adapter exposing the queue operations to
// the UI layer.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fetchbay/fetchd/internal/domain"
	"github.com/fetchbay/fetchd/internal/metrics"
	"github.com/fetchbay/fetchd/internal/tool"
)

// Server wires HTTP handlers to the queue service.
type Server struct {
	svc     *domain.QueueService
	updater *tool.Updater
	router  chi.Router
	server  *http.Server
	logger  *zap.Logger
	apiKey  string
}

// NewServer creates the HTTP server. apiKey of "" disables
// authentication.
func NewServer(svc *domain.QueueService, updater *tool.Updater, addr, apiKey string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		updater: updater,
		logger:  logger,
		apiKey:  apiKey,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(s.apiKeyMiddleware)
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Post("/clear_completed", s.handleClearCompleted)
			r.Post("/clear_all", s.handleClearAll)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/requeue", s.handleRequeue)
			})
		})
		r.Put("/settings/concurrency", s.handleSetConcurrency)
		r.Post("/tool/update", s.handleToolUpdate)
	})

	s.router = r
}

// submitRequest is the request body for POST /jobs.
type submitRequest struct {
	URL string `json:"url"`
}

// jobResponse is the JSON shape for job endpoints.
type jobResponse struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	SiteKey     string `json:"site_key"`
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
	Log         string `json:"log,omitempty"`
	SubmittedAt string `json:"submitted_at"`
	StartedAt   string `json:"started_at,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// listResponse carries the job list plus the current limit so the UI
// can render both from one call.
type listResponse struct {
	Jobs        []jobResponse `json:"jobs"`
	Concurrency int           `json:"concurrency"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	job, err := s.svc.Submit(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidURL):
			s.writeError(w, http.StatusBadRequest, "invalid URL")
		case errors.Is(err, domain.ErrNoWorkerForSite):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("submit failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.List(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := listResponse{
		Jobs:        make([]jobResponse, 0, len(jobs)),
		Concurrency: s.svc.Concurrency(),
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := s.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Int64("job_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	switch err := s.svc.Requeue(r.Context(), id); {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]int64{"id": id})
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidState):
		s.writeError(w, http.StatusConflict, "only failed jobs can be requeued")
	default:
		s.logger.Error("requeue failed", zap.Int64("job_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.ClearCompleted(r.Context())
	if err != nil {
		s.logger.Error("clear completed failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.ClearAll(r.Context())
	if err != nil {
		s.logger.Error("clear all failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

type concurrencyRequest struct {
	Concurrency int `json:"concurrency"`
}

func (s *Server) handleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.svc.SetConcurrency(r.Context(), req.Concurrency); err != nil {
		if errors.Is(err, domain.ErrInvalidValue) {
			s.writeError(w, http.StatusBadRequest, "concurrency must be >= 0")
			return
		}
		s.logger.Error("set concurrency failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToolUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.updater.Run(r.Context()); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:          job.ID,
		URL:         job.URL,
		SiteKey:     job.SiteKey,
		Status:      string(job.Status),
		Note:        job.Note,
		Log:         job.Log,
		SubmittedAt: job.SubmittedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
