package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/schema"
)

type registerLocalRequest struct {
	Name string `json:"name"`
	Description string `json:"description"`
	Capabilities agentmodel.Capability `json:"capabilities"`
	ConstructorRef agentmodel.ConstructorRef `json:"constructor_ref"`
	Tags []string `json:"tags"`
}

// ownerMetadataKey tags the registering caller on a record's Metadata so
// capability/enabled mutation can be gated owner-or-admin.
const ownerMetadataKey = "owner_user_id"

func (s *Server) handleRegisterLocal(w http.ResponseWriter, r *http.Request) {
	var req registerLocalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.reg.RegisterLocal(req.Name, req.Description, req.Capabilities, req.ConstructorRef, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	rec = s.stampOwner(r, rec.Name)
	writeJSON(w, http.StatusCreated, rec)
}

// stampOwner records the caller as owner_user_id on a just-registered
// record. Failure is logged, not surfaced: ownership is a convenience
// gate on top of the admin role, never a requirement for the record to
// exist.
func (s *Server) stampOwner(r *http.Request, name string) agentmodel.AgentRecord {
	claims, _ := claimsFromContext(r.Context())

	current, err := s.reg.Get(name)
	if err != nil {
		return current
	}

	meta := make(map[string]string, len(current.Metadata)+1)
	for k, v := range current.Metadata {
		meta[k] = v
	}
	meta[ownerMetadataKey] = claims.UserID

	updated, err := s.reg.SetMetadata(name, meta)
	if err != nil {
		s.log.Warn("failed to stamp owner metadata", "agent", name, "error", err)
		return current
	}
	return updated
}

type registerRemoteRequest struct {
	CardURL string `json:"card_url"`
	Capabilities *agentmodel.Capability `json:"capabilities,omitempty"`
	Provider agentmodel.Provider `json:"provider"`
	Auth agentmodel.AuthConfig `json:"auth_config"`
	Tags []string `json:"tags"`
}

func (s *Server) handleRegisterRemote(w http.ResponseWriter, r *http.Request) {
	var req registerRemoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.reg.RegisterRemote(r.Context(), req.CardURL, req.Capabilities, req.Provider, req.Auth, req.Tags)
	if err != nil {
		// A rejected-on-malicious-pattern registration still persisted a
		// record (status=rejected); report it alongside the error.
		if rec.Name != "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"agent": rec,
					"error": err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	rec = s.stampOwner(r, rec.Name)
	writeJSON(w, http.StatusCreated, rec)
}

type discoverRequest struct {
	CardURL string `json:"card_url"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ext, err := s.reg.Discover(r.Context(), req.CardURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	writeJSON(w, http.StatusOK, s.reg.List(enabledOnly, tags))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAgentSchema exposes the JSON Schema for the registration payloads,
// so a client can validate a Capability or AgentCard document before
// submitting it (?kind=agent_card selects the card schema, otherwise the
// Capability schema is returned).
func (s *Server) handleAgentSchema(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("kind") == "agent_card" {
		writeJSON(w, http.StatusOK, schema.AgentCard())
		return
	}
	writeJSON(w, http.StatusOK, schema.Capability())
}

// requireOwnerOrAdmin gates capability/enabled mutation to the record's
// registering caller or an admin.
func (s *Server) requireOwnerOrAdmin(w http.ResponseWriter, r *http.Request, name string) bool {
	claims, _ := claimsFromContext(r.Context())
	if claims.Role == "admin" {
		return true
	}
	rec, err := s.reg.Get(name)
	if err != nil {
		writeError(w, err)
		return false
	}
	if rec.Metadata[ownerMetadataKey] != claims.UserID {
		writeError(w, errForbidden)
		return false
	}
	return true
}

func (s *Server) handleUpdateCapabilities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.requireOwnerOrAdmin(w, r, name) {
		return
	}

	var cap agentmodel.Capability
	if !decodeJSON(w, r, &cap) {
		return
	}
	rec, err := s.reg.UpdateCapabilities(name, cap)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type setStatusRequest struct {
	Status agentmodel.RemoteStatus `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.reg.SetStatus(chi.URLParam(r, "name"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.requireOwnerOrAdmin(w, r, name) {
		return
	}

	var req setEnabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.reg.SetEnabled(name, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
