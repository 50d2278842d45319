// Package schema generates the JSON Schema documents that describe the
// registration API's input shapes, for operator tooling and client
// codegen that wants a machine-readable contract instead of hand-parsed
// docs.
package schema

import (
	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/agentmodel"
)

// Capability returns the JSON Schema for a Capability payload, so a
// registering client can validate before calling the registration API.
func Capability() *jsonschema.Schema {
	return jsonschema.Reflect(&agentmodel.Capability{})
}

// AgentCard returns the JSON Schema for the A2A agent card contract
// consumed by remote registration and /agents/discover.
func AgentCard() *jsonschema.Schema {
	return jsonschema.Reflect(&a2a.AgentCard{})
}
