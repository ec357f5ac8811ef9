package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-insight/internal/middleware"
	"github.com/kubilitics/kubilitics-insight/internal/models"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/orchestrator"
	"github.com/kubilitics/kubilitics-insight/internal/reasoning/pipeline"
)

const maxQueryBodyBytes = 64 << 10

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// EnginesResponse is the body of GET /api/v1/engines.
type EnginesResponse struct {
	Health  orchestrator.Health  `json:"health"`
	Engines []models.EngineStats `json:"engines"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.RequestIDFrom(r.Context())})
}

// ─── Probes ───────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports ready once an engine can answer and the index holds documents.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	health := s.deps.Orchestrator.Health()
	docs := s.deps.Index.Size()
	ready := health.Healthy && docs > 0

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"engines":   health,
		"documents": docs,
	})
}

// ─── Queries ──────────────────────────────────────────────────────────────────

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	m, err := models.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var opts []pipeline.QueryOption
	if m != "" {
		opts = append(opts, pipeline.WithMode(m))
	}
	resp := s.deps.Pipeline.ProcessQuery(r.Context(), req.Query, req.SessionID, opts...)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Stats())
}

// ─── Index ────────────────────────────────────────────────────────────────────

func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Index.Build(r.Context())
	s.logger.Info("index rebuilt on request",
		zap.String("request_id", middleware.RequestIDFrom(r.Context())),
		zap.Int("documents", report.Documents),
		zap.Bool("fallback", report.Fallback),
	)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Index.Stats())
}

// ─── Engines and modes ────────────────────────────────────────────────────────

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EnginesResponse{
		Health:  s.deps.Orchestrator.Health(),
		Engines: s.deps.Orchestrator.Stats(),
	})
}

func (s *Server) handleEngineRestart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	err := s.deps.Orchestrator.Restart(r.Context(), name)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownEngine):
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Warn("engine restart failed", zap.String("engine", name), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine": name,
		"state":  s.deps.Orchestrator.Health().Engines[name],
	})
}

func (s *Server) handleModeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Modes.Stats())
}
