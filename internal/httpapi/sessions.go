package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/orchestra/internal/orcherr"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

// ownedSession loads sessionID and verifies the caller owns it or holds
// the admin role.
func (s *Server) ownedSession(r *http.Request, sessionID string) (*sessionstore.Full, error) {
	claims, _ := claimsFromContext(r.Context())

	full, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if full.Session.UserID != claims.UserID && claims.Role != "admin" {
		return nil, fmt.Errorf("httpapi: session %q does not belong to caller: %w", sessionID, orcherr.ErrUnauthorized)
	}
	return full, nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	id, err := s.sessions.CreateSession(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	full, err := s.ownedSession(r, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, full)
}

type appendHistoryRequest struct {
	Role sessionstore.Role `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAppendHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.ownedSession(r, sessionID); err != nil {
		writeError(w, err)
		return
	}

	var req appendHistoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	seq, err := s.sessions.AppendMessage(r.Context(), sessionID, req.Role, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"seq": seq})
}

type recordInvocationRequest struct {
	AgentName string `json:"agent_name"`
	Query string `json:"query"`
	Response string `json:"response"`
	Success bool `json:"success"`
	ErrorMessage string `json:"error_message"`
	DurationMS int64 `json:"duration_ms"`
}

func (s *Server) handleRecordInvocation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.ownedSession(r, sessionID); err != nil {
		writeError(w, err)
		return
	}

	var req recordInvocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv := sessionstore.Invocation{
		SessionID: sessionID, AgentName: req.AgentName, Query: req.Query,
		Response: req.Response, Success: req.Success, ErrorMessage: req.ErrorMessage,
		DurationMS: req.DurationMS,
	}
	if err := s.sessions.RecordInvocation(r.Context(), inv); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type setSessionStatusRequest struct {
	Status sessionstore.Status `json:"status"`
}

func (s *Server) handleSetSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.ownedSession(r, sessionID); err != nil {
		writeError(w, err)
		return
	}

	var req setSessionStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.sessions.SetStatus(r.Context(), sessionID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.ownedSession(r, sessionID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
