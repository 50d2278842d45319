package httpapi

import "net/http"

type invokeRequest struct {
	Query string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// handleInvoke is the sole entry point into the Orchestrator (C8): it
// forwards the verified bearer so the orchestrator can both identify the
// caller and relay it unchanged to remote agents.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bearer := bearerFromContext(r.Context())
	res, err := s.orch.Handle(r.Context(), req.Query, bearer, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
			"response": res.Response,
			"session_id": res.SessionID,
	})
}
