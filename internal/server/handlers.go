package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/corpus"
	"github.com/promptsentinel/promptsentinel/internal/db"
	"github.com/promptsentinel/promptsentinel/internal/detector"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

// EvaluateRequest represents a request to the evaluate endpoint
type EvaluateRequest struct {
	Prompt string `json:"prompt"`
}

// FitRequest represents a model fit request. All fields are optional;
// omitted detector parameters fall back to the configured defaults and an
// omitted prompt list falls back to the configured corpus.
type FitRequest struct {
	Prompts       []string `json:"prompts,omitempty"`
	Contamination *float64 `json:"contamination,omitempty"`
	NumTrees      *int     `json:"num_trees,omitempty"`
	SampleSize    *int     `json:"sample_size,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
}

// handleEvaluate runs one prompt through the decision pipeline.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "Prompt cannot be empty", http.StatusBadRequest)
		return
	}

	decision, err := s.fuser.Evaluate(r.Context(), req.Prompt)
	if err != nil {
		s.writeEvaluateError(w, err)
		return
	}

	// Persistence and fan-out failures must not flip a rendered decision.
	if err := s.store.SaveDecision(r.Context(), decision); err != nil {
		s.log.Error("failed to persist decision", zap.String("decision_id", decision.ID), zap.Error(err))
	}
	if s.auditLog != nil {
		if err := s.auditLog.LogDecision(r.Context(), decision); err != nil {
			s.log.Error("failed to audit decision", zap.String("decision_id", decision.ID), zap.Error(err))
		}
	}
	s.hub.Broadcast(decision)

	writeJSON(w, http.StatusOK, decision)
}

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned before a response was written.
const statusClientClosedRequest = 499

// writeEvaluateError maps pipeline errors to HTTP status codes.
func (s *Server) writeEvaluateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrModelNotReady):
		http.Error(w, "Detector model not fitted; fit or load a model first", http.StatusServiceUnavailable)
	case errors.Is(err, models.ErrDimensionMismatch):
		http.Error(w, "Embedding dimension does not match the fitted model", http.StatusBadRequest)
	case errors.Is(err, models.ErrEmbeddingService):
		http.Error(w, "Embedding service unavailable", http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Evaluation timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		// The client went away mid-evaluation; not a server fault.
		s.log.Debug("evaluation abandoned by client", zap.Error(err))
		http.Error(w, "Client closed request", statusClientClosedRequest)
	default:
		s.log.Error("evaluation failed", zap.Error(err))
		http.Error(w, "Evaluation failed", http.StatusInternalServerError)
	}
}

// handleDecisions lists persisted decisions, newest first.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := db.DecisionFilter{}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}
	if v := q.Get("reason"); v != "" {
		filter.Reason = models.ReasonCode(v)
	}
	if v := q.Get("allowed"); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid allowed flag", http.StatusBadRequest)
			return
		}
		filter.Allowed = &allowed
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid since timestamp (want RFC3339)", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}

	decisions, err := s.store.ListDecisions(r.Context(), filter)
	if err != nil {
		s.log.Error("failed to list decisions", zap.Error(err))
		http.Error(w, "Failed to list decisions", http.StatusInternalServerError)
		return
	}
	if decisions == nil {
		decisions = []*models.Decision{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// handleDecisionByID retrieves a single decision.
func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/decisions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid decision ID", http.StatusBadRequest)
		return
	}

	decision, err := s.store.GetDecision(r.Context(), id)
	if err != nil {
		s.log.Error("failed to get decision", zap.String("decision_id", id), zap.Error(err))
		http.Error(w, "Failed to get decision", http.StatusInternalServerError)
		return
	}
	if decision == nil {
		http.Error(w, "Decision not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// handleDecisionsPlot returns 2-D projection records for recent decisions
// that reached the statistical layer, for the external cluster
// visualization.
func (s *Server) handleDecisionsPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	decisions, err := s.store.ListDecisions(r.Context(), db.DecisionFilter{Limit: limit})
	if err != nil {
		s.log.Error("failed to list decisions for plot", zap.Error(err))
		http.Error(w, "Failed to list decisions", http.StatusInternalServerError)
		return
	}

	points := make([]*models.PlotRecord, 0, len(decisions))
	for _, d := range decisions {
		if p := models.PlotRecordFromDecision(d); p != nil {
			points = append(points, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"points": points,
		"count":  len(points),
	})
}

// handleStats summarizes rendered decisions by reason code.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.store.CountDecisions(r.Context())
	if err != nil {
		s.log.Error("failed to count decisions", zap.Error(err))
		http.Error(w, "Failed to count decisions", http.StatusInternalServerError)
		return
	}

	total := 0
	blocked := 0
	overridden := 0
	for reason, n := range counts {
		total += n
		switch reason {
		case models.ReasonBlockedRule, models.ReasonBlockedConfirmed, models.ReasonBlockedJudgeUnavailable:
			blocked += n
		case models.ReasonOverriddenSafe:
			overridden += n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":      total,
		"blocked":    blocked,
		"overridden": overridden,
		"by_reason":  counts,
	})
}

// handleModelInfo reports the detector model lifecycle state.
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.lifecycle.Info())
}

// handleModelFit fits a new detector model and publishes it.
func (s *Server) handleModelFit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := FitRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}

	prompts := req.Prompts
	if len(prompts) == 0 {
		var err error
		prompts, err = s.fitCorpus()
		if err != nil {
			s.log.Error("failed to load fitting corpus", zap.Error(err))
			http.Error(w, "Failed to load fitting corpus", http.StatusInternalServerError)
			return
		}
	}

	params := s.fitParams(&req)

	start := time.Now()
	embeddings := make([]models.Embedding, 0, len(prompts))
	for _, p := range prompts {
		e, err := s.embedder.Embed(r.Context(), p)
		if err != nil {
			s.writeEvaluateError(w, err)
			return
		}
		embeddings = append(embeddings, e)
	}

	model, err := s.lifecycle.Fit(r.Context(), embeddings, params)
	if err != nil {
		s.log.Error("model fit failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("Fit failed: %v", err), http.StatusBadRequest)
		return
	}

	if s.auditLog != nil {
		_ = s.auditLog.LogModelFitted(r.Context(), model.Version, model.CorpusSize, time.Since(start))
	}

	writeJSON(w, http.StatusOK, model.Info())
}

// fitCorpus resolves the fitting prompt list from config.
func (s *Server) fitCorpus() ([]string, error) {
	if path := s.config.Detector.CorpusPath; path != "" {
		return corpus.LoadFile(path)
	}
	return corpus.Default(), nil
}

// fitParams resolves fit parameters: request overrides, then config.
func (s *Server) fitParams(req *FitRequest) detector.FitParams {
	params := detector.FitParams{
		Contamination: s.config.Detector.Contamination,
		NumTrees:      s.config.Detector.NumTrees,
		SampleSize:    s.config.Detector.SampleSize,
		Seed:          s.config.Detector.Seed,
	}
	if req.Contamination != nil {
		params.Contamination = *req.Contamination
	}
	if req.NumTrees != nil {
		params.NumTrees = *req.NumTrees
	}
	if req.SampleSize != nil {
		params.SampleSize = *req.SampleSize
	}
	if req.Seed != nil {
		params.Seed = *req.Seed
	}
	return params
}

// handleModelReset invalidates the published model. Scoring is disabled
// until an explicit refit.
func (s *Server) handleModelReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.lifecycle.Invalidate(r.Context()); err != nil {
		s.log.Error("model reset failed", zap.Error(err))
		http.Error(w, "Reset failed", http.StatusInternalServerError)
		return
	}
	if s.auditLog != nil {
		_ = s.auditLog.LogModelInvalidated(r.Context())
	}

	writeJSON(w, http.StatusOK, s.lifecycle.Info())
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady reports readiness: the store must be reachable. The model
// state is informational; an unfitted detector still serves admin routes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":       true,
		"model_state": s.lifecycle.Info().State,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
