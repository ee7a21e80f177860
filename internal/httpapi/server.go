// healthcare-mcp: MCP server for healthcare data lookup
// SPDX-License-Identifier: MIT
//
// REST facade over the tool adapters, mirroring the MCP surface.

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"healthcare-mcp/internal/cache"
	"healthcare-mcp/internal/mcpserver/tools"
	"healthcare-mcp/internal/usage"
	"healthcare-mcp/internal/version"
)

// Server exposes the tool adapters and usage ledger over plain HTTP.
// Every response is JSON with a status field; errors use
// {status, error_message, error_code}.
type Server struct {
	logger   *zap.Logger
	adapters map[string]tools.Adapter
	store    *cache.Store
	ledger   *usage.Ledger

	// sessionID stands in when a request carries no session identity.
	sessionID string

	baseRate int
}

func New(logger *zap.Logger, adapters []tools.Adapter, store *cache.Store, ledger *usage.Ledger, sessionID string, ratePerMinute int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ratePerMinute < 1 {
		ratePerMinute = 60
	}
	byName := make(map[string]tools.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Server{
		logger:    logger,
		adapters:  byName,
		store:     store,
		ledger:    ledger,
		sessionID: sessionID,
		baseRate:  ratePerMinute,
	}
}

// Handler builds the route table. Heavier upstream routes get half the
// base rate, monitoring routes a multiple of it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/fda", rateLimit(s.baseRate, s.handleFDA))
	mux.HandleFunc("GET /api/pubmed", rateLimit(s.baseRate/2, s.handlePubMed))
	mux.HandleFunc("GET /api/health_finder", rateLimit(s.baseRate, s.handleHealthFinder))
	mux.HandleFunc("GET /api/clinical_trials", rateLimit(s.baseRate/2, s.handleClinicalTrials))
	mux.HandleFunc("GET /api/medical_terminology", rateLimit(s.baseRate, s.handleTerminology))
	mux.HandleFunc("GET /api/usage_stats", rateLimit(s.baseRate*2, s.handleUsageStats))
	mux.HandleFunc("GET /api/all_usage_stats", rateLimit(s.baseRate/2, s.handleAllUsageStats))
	mux.HandleFunc("POST /mcp/call-tool", rateLimit(s.baseRate, s.handleCallTool))
	mux.HandleFunc("GET /health", rateLimit(s.baseRate*5, s.handleHealth))

	return requestLogger(s.logger, mux)
}

func (s *Server) handleFDA(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{
		"searchType": q.Get("search_type"),
		"deviceName": q.Get("device_name"),
		"eventType":  q.Get("event_type"),
	}
	if days := q.Get("date_range"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			args["dateRange"] = n
		}
	}
	s.invoke(w, r, "fda_device_lookup", args)
}

func (s *Server) handlePubMed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{
		"query":      q.Get("query"),
		"date_range": q.Get("date_range"),
	}
	if n, err := strconv.Atoi(q.Get("max_results")); err == nil {
		args["max_results"] = n
	}
	s.invoke(w, r, "pubmed_search", args)
}

func (s *Server) handleHealthFinder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.invoke(w, r, "health_topics", map[string]any{
		"topic":    q.Get("topic"),
		"language": q.Get("language"),
	})
}

func (s *Server) handleClinicalTrials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{
		"condition": q.Get("condition"),
		"status":    q.Get("status"),
	}
	if n, err := strconv.Atoi(q.Get("max_results")); err == nil {
		args["max_results"] = n
	}
	s.invoke(w, r, "clinical_trials_search", args)
}

func (s *Server) handleTerminology(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{
		"code":        q.Get("code"),
		"description": q.Get("description"),
	}
	if n, err := strconv.Atoi(q.Get("max_results")); err == nil {
		args["max_results"] = n
	}
	s.invoke(w, r, "lookup_icd_code", args)
}

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	sid := s.session(r)
	result := s.ledger.MonthlyUsage(r.Context(), sid, 0, 0)
	status := "success"
	if result.Err != "" {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "usage": result})
}

func (s *Server) handleAllUsageStats(w http.ResponseWriter, r *http.Request) {
	result := s.ledger.UsageStats(r.Context())
	status := "success"
	if result.Err != "" {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "usage": result})
}

type callToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_INPUT")
		return
	}
	adapter, ok := s.adapters[req.Name]
	if !ok {
		s.logger.Warn("tool not found", zap.String("tool", req.Name))
		writeError(w, http.StatusOK, "Tool '"+req.Name+"' not found", "TOOL_NOT_FOUND")
		return
	}
	result, err := adapter.Invoke(r.Context(), req.Arguments)
	if err != nil {
		s.logger.Error("tool call failed", zap.String("tool", req.Name), zap.Error(err))
		writeError(w, http.StatusOK, "Error calling tool: "+err.Error(), "TOOL_EXECUTION_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cacheStatus := "ok"
	if st := s.store.Stats(r.Context()); st.Err != "" {
		cacheStatus = "error: " + st.Err
	}
	usageStatus := "ok"
	if st := s.ledger.UsageStats(r.Context()); st.Err != "" {
		usageStatus = "error: " + st.Err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"cache": cacheStatus,
			"usage": usageStatus,
		},
	})
}

// invoke dispatches a facade request through the named adapter.
func (s *Server) invoke(w http.ResponseWriter, r *http.Request, tool string, args map[string]any) {
	adapter, ok := s.adapters[tool]
	if !ok {
		writeError(w, http.StatusInternalServerError, "Tool '"+tool+"' not registered", "TOOL_NOT_FOUND")
		return
	}
	result, err := adapter.Invoke(r.Context(), args)
	if err != nil {
		s.logger.Error("tool call failed", zap.String("tool", tool), zap.Error(err))
		writeError(w, http.StatusOK, "Error calling tool: "+err.Error(), "TOOL_EXECUTION_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// session resolves the caller's session identity from the X-Session-ID
// header or session_id query parameter, falling back to the server's own.
func (s *Server) session(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		return sid
	}
	return s.sessionID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]any{
		"status":        "error",
		"error_message": message,
		"error_code":    code,
	})
}
