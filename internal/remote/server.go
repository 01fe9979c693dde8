package remote

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Server exposes Service over HTTP. Every route expects an owner scope
// resolved by the caller (via Authenticator, once one is wired in) and
// passed as the "ownerScope" query parameter or JSON field in the interim.
type Server struct {
	mux *http.ServeMux
	svc *Service
}

// NewServer builds the remote HTTP surface: upload/download/list for
// synced sessions and a rotate-root-secret maintenance endpoint.
func NewServer(svc *Service) *Server {
	s := &Server{mux: http.NewServeMux(), svc: svc}
	s.mux.HandleFunc("/remote/sessions/upload", s.handleUpload)
	s.mux.HandleFunc("/remote/sessions/download", s.handleDownload)
	s.mux.HandleFunc("/remote/sessions/list", s.handleList)
	s.mux.HandleFunc("/remote/keys/rotate", s.handleRotate)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("remote: failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerScope   string `json:"ownerScope"`
		SessionID    string `json:"sessionId"`
		Messages     string `json:"messages"`
		Summary      string `json:"summary"`
		Metadata     string `json:"metadata"`
		MessageCount int    `json:"messageCount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.UploadSession(r.Context(), in.OwnerScope, in.SessionID, in.Messages, in.Summary, in.Metadata, in.MessageCount); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ownerScope := r.URL.Query().Get("ownerScope")
	sessionID := r.URL.Query().Get("sessionId")
	messages, summary, err := s.svc.DownloadSession(r.Context(), ownerScope, sessionID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"messages": messages, "summary": summary})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerScope := r.URL.Query().Get("ownerScope")
	sessions, err := s.svc.ListSessions(r.Context(), ownerScope)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerScope    string `json:"ownerScope"`
		OldRootSecret string `json:"oldRootSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.RotateRootSecret(r.Context(), in.OwnerScope, in.OldRootSecret); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	if err == ErrNotEntitled {
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
