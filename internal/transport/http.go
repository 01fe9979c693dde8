// Package transport serves the query surface over HTTP: a request/response
// JSON endpoint, a push-channel upgrade implementing a subscription
// handshake, and a health check.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// QueryRequest is the body of a POST to the request/response endpoint.
type QueryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// QueryResponse is the uniform response envelope: a single field failure
// never aborts the whole response.
type QueryResponse struct {
	Data   any      `json:"data,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Executor runs one query/variables pair and returns its result or errors.
// The concrete resolver wiring (query parsing, loader invocation) lives
// above this package; Server only needs something that can answer a call.
type Executor func(query string, variables map[string]any) QueryResponse

// Server wires the HTTP surface together.
type Server struct {
	mux      *http.ServeMux
	exec     Executor
	version  string
	upgrader *Upgrader
}

// NewServer builds the ServeMux with /query, /health, /subscribe, and
// /ide routes registered.
func NewServer(exec Executor, version string, ideHandler http.Handler) *Server {
	s := &Server{mux: http.NewServeMux(), exec: exec, version: version, upgrader: NewUpgrader(exec)}

	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/subscribe", s.upgrader.Handle)
	if ideHandler != nil {
		s.mux.Handle("/ide", ideHandler)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, QueryResponse{Errors: []string{"invalid request body"}})
		return
	}

	resp := s.exec(req.Query, req.Variables)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("transport: failed to encode response")
	}
}
