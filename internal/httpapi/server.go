// internal/httpapi/server.go

// Package httpapi exposes pipeline executions over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/ml-orchestrator/internal/store"
	"github.com/tendant/ml-orchestrator/pkg/schema"
)

// maxDefinitionBytes caps the execute request body.
const maxDefinitionBytes = 1 << 20

// Executor is the engine surface the API needs.
type Executor interface {
	Start(ctx context.Context, def schema.Definition) (string, error)
	Status(ctx context.Context, id string) (*schema.Job, error)
	List(ctx context.Context) []schema.ExecutionSummary
}

type Server struct {
	exec     Executor
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New returns the API server. A nil gatherer disables /metrics.
func New(exec Executor, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{exec: exec, gatherer: gatherer, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Post("/pipeline/execute", s.handleExecute)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/executions", s.handleExecutions)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "Orchestrator", "status": "active"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	if len(body) > maxDefinitionBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Pipeline definition too large", nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "Pipeline definition required", nil)
		return
	}

	def, err := schema.ParseDefinition(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pipeline definition", err)
		return
	}
	id, err := s.exec.Start(r.Context(), def)
	switch {
	case errors.Is(err, schema.ErrInvalidDefinition):
		writeError(w, http.StatusBadRequest, "Invalid pipeline definition", err)
		return
	case err != nil:
		logger.Error("start pipeline failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to start pipeline", err)
		return
	}

	logger.Info("pipeline execution accepted", "execution_id", id, "dataset_path", def.DatasetPath)
	writeJSON(w, http.StatusOK, schema.ExecuteAccepted{
		ExecutionID: id,
		Status:      "started",
		Message:     "Pipeline execution started",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.exec.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("status lookup failed", "err", err)
		}
		writeJSON(w, http.StatusNotFound, schema.ErrorResponse{Error: "Execution ID not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.List(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := schema.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
