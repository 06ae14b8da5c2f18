// Package server exposes the pipeline trigger surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/pipeline"
	"github.com/bugscout/bugscout/internal/storage"
)

// Runner is the pipeline surface the HTTP layer drives.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
	Revise(ctx context.Context, recordingID, instructions string) (*storage.Issue, error)
}

// Server holds the HTTP handlers.
type Server struct {
	runner Runner
}

// New creates a Server around the given pipeline.
func New(runner Runner) *Server {
	return &Server{runner: runner}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthCheck)
	r.Post("/api/v1/pipeline/run", s.handleRun)
	r.Post("/api/v1/issues/{recordingID}/revise", s.handleRevise)

	return r
}

// handleRun triggers one pipeline run and returns the summary. Safe to call
// repeatedly: deduplication makes re-runs converge instead of duplicating
// issues.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.Run(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Pipeline run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type reviseRequest struct {
	Instructions string `json:"instructions"`
}

// handleRevise produces a revised fix for one issue from developer
// instructions.
func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")

	var req reviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Instructions == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "instructions are required"})
		return
	}

	issue, err := s.runner.Revise(r.Context(), recordingID, req.Instructions)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "issue not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("recording_id", recordingID).Msg("Fix revision failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
