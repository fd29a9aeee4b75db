// Package server exposes research tasks over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deepnoodle-ai/research"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Service is the task API the server exposes. *research.Supervisor
// implements it.
type Service interface {
	Submit(ctx context.Context, req research.SubmitRequest) (string, error)
	Resume(ctx context.Context, taskID string, questions []string) error
	Status(ctx context.Context, taskID string) (*research.TaskStatus, error)
	Results(ctx context.Context, taskID string, wait time.Duration) (*research.Result, error)
}

// Server provides the HTTP endpoints
type Server struct {
	router         chi.Router
	service        Service
	logger         *slog.Logger
	allowedOrigins []string
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins sets the CORS origins
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// New creates a new server
func New(service Service, opts ...Option) *Server {
	s := &Server{
		service:        service,
		logger:         slog.Default(),
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/research", s.handleSubmit)
	r.Post("/resume/{taskID}", s.handleResume)
	r.Get("/status/{taskID}", s.handleStatus)
	r.Get("/results/{taskID}", s.handleResults)
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// SubmitRequest is the body of POST /research
type SubmitRequest struct {
	Query         string `json:"query"`
	ModelProvider string `json:"model_provider,omitempty"`
	Model         string `json:"model,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// ResumeRequest is the body of POST /resume/{task_id}
type ResumeRequest struct {
	ResearchQuestions []string `json:"research_questions"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	taskID, err := s.service.Submit(r.Context(), research.SubmitRequest{
		Query:    req.Query,
		Provider: req.ModelProvider,
		Model:    req.Model,
		APIKey:   req.APIKey,
		UserID:   req.UserID,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID})
	case errors.Is(err, research.ErrInvalidQuery), errors.Is(err, research.ErrInvalidProvider):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("failed to start task", "task_id", taskID, "error", err)
		respondJSON(w, http.StatusInternalServerError, taskResponse{TaskID: taskID, Error: err.Error()})
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.service.Resume(r.Context(), taskID, req.ResearchQuestions); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID, Status: "RESUMED"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			respondError(w, http.StatusBadRequest, "wait must be a non-negative number of seconds")
			return
		}
		wait = time.Duration(seconds * float64(time.Second))
	}

	result, err := s.service.Results(r.Context(), taskID, wait)
	switch {
	case errors.Is(err, research.ErrPending):
		respondJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID, Status: "PENDING"})
	case err != nil:
		respondError(w, statusForError(err), err.Error())
	case result.Status == research.StatusFailed:
		respondJSON(w, http.StatusInternalServerError, taskResponse{
			TaskID: taskID,
			Status: string(research.StatusFailed),
			Error:  result.Error,
		})
	default:
		respondJSON(w, http.StatusOK, result.Report)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, research.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, research.ErrNotSuspended):
		return http.StatusConflict
	case errors.Is(err, research.ErrInvalidQuestions):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			s.logger.Error("API server shutdown failed", "error", err)
		}
		shutdownErr <- err
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
