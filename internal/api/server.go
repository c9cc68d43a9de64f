// Package api exposes the HTTP interface for the snapfetch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snapfetch/snapfetch/internal/content"
	"github.com/snapfetch/snapfetch/internal/metrics"
	"github.com/snapfetch/snapfetch/internal/orchestrator"
	"github.com/snapfetch/snapfetch/internal/pipeline"
)

// Config controls server behavior.
type Config struct {
	AuthEnabled   bool
	APIKey        string
	FetchTimeout  time.Duration
	DefaultFormat content.Format
}

// Server wires HTTP handlers to the orchestrator and the single-URL pipeline.
type Server struct {
	router       chi.Router
	orchestrator *orchestrator.Orchestrator
	converter    orchestrator.Converter
	store        content.JobStore
	cfg          Config
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch *orchestrator.Orchestrator,
	converter orchestrator.Converter,
	store content.JobStore,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = content.FormatMarkdown
	}
	s := &Server{
		orchestrator: orch,
		converter:    converter,
		store:        store,
		cfg:          cfg,
		logger:       logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(120 * time.Second))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.fetchSingle)
		r.Route("/batch", func(r chi.Router) {
			r.Post("/", s.submitBatch)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getStatus)
				r.Get("/results", s.getResults)
				r.Post("/cancel", s.cancelJob)
				r.Delete("/", s.deleteJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type fetchRequest struct {
	URL     string            `json:"url"`
	Format  content.Format    `json:"format"`
	Headers map[string]string `json:"headers"`
}

func (s *Server) fetchSingle(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url required")
		return
	}
	if req.Format == "" {
		req.Format = s.cfg.DefaultFormat
	}
	if !req.Format.Valid() {
		writeError(s.logger, w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", req.Format))
		return
	}

	item := content.WorkItem{URL: req.URL, Format: req.Format, Headers: req.Headers}
	result := s.converter.Convert(r.Context(), item, s.cfg.FetchTimeout)

	w.Header().Set("X-Rendered-With-JS", strconv.FormatBool(result.RenderedWithJS))
	w.Header().Set("X-Original-URL", result.OriginalURL)
	w.Header().Set("X-Content-Length", strconv.Itoa(result.ContentLength))

	if !result.Success {
		status := http.StatusInternalServerError
		if result.ErrorKind == pipeline.ErrKindCapacity {
			status = http.StatusServiceUnavailable
		}
		writeJSON(s.logger, w, status, result)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, result)
}

type batchRequest struct {
	Items            []content.WorkItem `json:"items"`
	DefaultFormat    content.Format     `json:"default_format"`
	ConcurrencyLimit int                `json:"concurrency_limit"`
	TimeoutPerURLSec int                `json:"timeout_per_url_seconds"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	spec := content.JobSpec{
		Items:            req.Items,
		DefaultFormat:    req.DefaultFormat,
		ConcurrencyLimit: req.ConcurrencyLimit,
		TimeoutPerURL:    time.Duration(req.TimeoutPerURLSec) * time.Second,
	}
	jobID, err := s.orchestrator.Submit(r.Context(), spec)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.orchestrator.Status(r.Context(), jobID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.orchestrator.Results(r.Context(), jobID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"job":     job,
		"summary": content.Summarize(job),
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.orchestrator.Cancel(r.Context(), jobID); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancellation requested",
	})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.orchestrator.Delete(r.Context(), jobID); err != nil {
		s.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMappedError translates the service error taxonomy to HTTP statuses.
func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	var validationErr *content.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, content.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, content.ErrNotReady), errors.Is(err, content.ErrAlreadyTerminal):
		writeError(s.logger, w, http.StatusConflict, err.Error())
	case errors.Is(err, content.ErrCapacity), errors.Is(err, content.ErrStoreUnavailable):
		writeError(s.logger, w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(s.logger, w, http.StatusInternalServerError, err.Error())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
