// Package agentmodel holds the data model shared by the Capability
// Index (C1), the Registry Store (C2), and the Agent Registry (C3):
// AgentRecord and its nested structures.
package agentmodel

import "time"

// Kind distinguishes a locally-constructed agent from a remote one.
type Kind string

const (
	KindLocal Kind = "local"
	KindRemote Kind = "remote"
)

// RemoteStatus is the lifecycle state machine for remote agents.
type RemoteStatus string

const (
	StatusPending RemoteStatus = "pending"
	StatusApproved RemoteStatus = "approved"
	StatusSuspended RemoteStatus = "suspended"
	StatusRejected RemoteStatus = "rejected"
)

// AuthType enumerates the authentication schemes a remote agent may require.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
	AuthNone AuthType = "none"
)

// Capability is the structured metadata used for routing.
type Capability struct {
	Domains []string `yaml:"domains" json:"domains"`
	Operations []string `yaml:"operations" json:"operations"`
	Entities []string `yaml:"entities" json:"entities"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Examples []string `yaml:"examples" json:"examples"`
	RequiresAuth bool `yaml:"requires_auth" json:"requires_auth"`
	Priority int `yaml:"priority" json:"priority"`
}

// ConstructorRef identifies how to reconstruct a local agent instance.
// Go has no safe in-process dynamic-symbol loader, so
// module_path+symbol_name is resolved against a compile-time registered
// map rather than loaded at runtime (see internal/registry.LocalConstructors).
type ConstructorRef struct {
	ModulePath string `yaml:"module_path" json:"module_path"`
	SymbolName string `yaml:"symbol_name" json:"symbol_name"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Provider describes a remote agent's publisher.
type Provider struct {
	Name string `yaml:"name" json:"name"`
	Website string `yaml:"website,omitempty" json:"website,omitempty"`
	SupportEmail string `yaml:"support_email,omitempty" json:"support_email,omitempty"`
	Documentation string `yaml:"documentation,omitempty" json:"documentation,omitempty"`
}

// AuthConfig describes how the orchestrator should authenticate to a
// remote agent. The caller's verified bearer is always forwarded
// unchanged; AuthConfig documents the agent's declared requirement
// rather than triggering token translation.
type AuthConfig struct {
	Type AuthType `yaml:"type" json:"type"`
	TokenEndpoint string `yaml:"token_endpoint,omitempty" json:"token_endpoint,omitempty"`
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// AgentRecord is one catalog entry.
type AgentRecord struct {
	Name string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Kind Kind `yaml:"kind" json:"kind"`
	Enabled bool `yaml:"enabled" json:"enabled"`
	Tags []string `yaml:"tags" json:"tags"`
	Priority int `yaml:"priority" json:"priority"`
	Capabilities Capability `yaml:"capabilities" json:"capabilities"`
	RegisteredAt time.Time `yaml:"registered_at" json:"registered_at"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Local-only.
	ConstructorRef *ConstructorRef `yaml:"constructor_ref,omitempty" json:"constructor_ref,omitempty"`

	// Remote-only.
	AgentCardURL string `yaml:"agent_card_url,omitempty" json:"agent_card_url,omitempty"`
	Provider *Provider `yaml:"provider,omitempty" json:"provider,omitempty"`
	AuthConfig *AuthConfig `yaml:"auth_config,omitempty" json:"auth_config,omitempty"`
	Status RemoteStatus `yaml:"status,omitempty" json:"status,omitempty"`
}

// Dispatchable reports whether the record may currently receive traffic.
func (r AgentRecord) Dispatchable() bool {
	if !r.Enabled {
		return false
	}
	switch r.Kind {
	case KindRemote:
		return r.Status == StatusApproved
	case KindLocal:
		return r.ConstructorRef != nil
	default:
		return false
	}
}

// Clone returns a deep-enough copy for copy-on-write snapshotting:
// callers get their own slices/maps so a later mutation of the
// registry's live record cannot be observed through an old snapshot.
func (r AgentRecord) Clone() AgentRecord {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Capabilities = r.Capabilities.Clone()
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.ConstructorRef != nil {
		c := *r.ConstructorRef
		if r.ConstructorRef.Params != nil {
			c.Params = make(map[string]any, len(r.ConstructorRef.Params))
			for k, v := range r.ConstructorRef.Params {
				c.Params[k] = v
			}
		}
		out.ConstructorRef = &c
	}
	if r.Provider != nil {
		p := *r.Provider
		out.Provider = &p
	}
	if r.AuthConfig != nil {
		a := *r.AuthConfig
		a.Scopes = append([]string(nil), r.AuthConfig.Scopes...)
		out.AuthConfig = &a
	}
	return out
}

// Clone returns a deep copy of the capability's slices.
func (c Capability) Clone() Capability {
	return Capability{
		Domains: append([]string(nil), c.Domains...),
		Operations: append([]string(nil), c.Operations...),
		Entities: append([]string(nil), c.Entities...),
		Keywords: append([]string(nil), c.Keywords...),
		Examples: append([]string(nil), c.Examples...),
		RequiresAuth: c.RequiresAuth,
		Priority: c.Priority,
	}
}
