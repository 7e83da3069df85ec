// Package server exposes the run manager over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"
)

// Form fields accepted by POST /v1/runs.
const (
	FieldOrders      = "orders_file"
	FieldReturns     = "returns_file"
	FieldGoal        = "business_goal"
	FieldConstraints = "constraints"
)

// DefaultMaxUploadBytes bounds a submission's multipart body.
const DefaultMaxUploadBytes int64 = 32 << 20

// RunService is the run manager as seen by the transport.
type RunService interface {
	Submit(ctx context.Context, sub analysis.Submission) (string, error)
	GetRun(ctx context.Context, runID string) (*analysis.Run, error)
	ListCompleted(ctx context.Context) ([]analysis.RunSummary, error)
	Export(ctx context.Context, runID string) (*report.Report, *analysis.Run, error)
	LLMAvailable() bool
}

// Server serves the runs API.
type Server struct {
	runs           RunService
	metrics        http.Handler
	logger         *slog.Logger
	version        string
	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported at /.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxUploadBytes bounds the submission body size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// New creates a Server backed by runs.
func New(runs RunService, opts ...Option) *Server {
	s := &Server{
		runs:           runs,
		logger:         slog.Default(),
		version:        "dev",
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{runID}", s.handleGet)
		r.Get("/{runID}/download", s.handleDownload)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "margin-intel",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"ok":            true,
		"llm_available": s.runs.LLMAvailable(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	orders, err := openPart(r, FieldOrders)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if orders == nil {
		writeError(w, http.StatusBadRequest, FieldOrders+" is required")
		return
	}
	defer closePart(orders)

	sub := analysis.Submission{
		Orders:      orders,
		Goal:        r.FormValue(FieldGoal),
		Constraints: r.FormValue(FieldConstraints),
	}

	returns, err := openPart(r, FieldReturns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if returns != nil {
		defer closePart(returns)
		sub.Returns = returns
	}

	runID, err := s.runs.Submit(r.Context(), sub)
	if err != nil {
		if common.IsValidationError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(analysis.StatusProcessing),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.runs.ListCompleted(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []analysis.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	rep, run, err := s.runs.Export(r.Context(), runID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case errors.Is(err, common.ErrRunNotComplete):
		body := map[string]string{"error": "run_not_complete"}
		if run != nil {
			body["status"] = string(run.Status)
		}
		writeJSON(w, http.StatusConflict, body)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.json", runID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Failed to write report download", "run_id", runID, "error", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err)
	writeError(w, http.StatusInternalServerError, "internal_server_error")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// openPart returns the named uploaded file, or nil when it was not sent.
func openPart(r *http.Request, field string) (multipart.File, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return file, nil
}

func closePart(f multipart.File) {
	if err := f.Close(); err != nil {
		slog.Debug("Failed to close uploaded file", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
