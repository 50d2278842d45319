// Package a2a implements the A2A Client (C5): the typed client that
// invokes a remote agent at its agent-card-advertised endpoint, plus the
// agent-card fetch-and-cache machinery consumed by both the client and
// the Agent Registry (C3)'s remote-registration validation.
package a2a

import "strconv"

// Tool describes one capability a remote agent advertises on its card.
type Tool struct {
	Name string `json:"name"`
	Description string `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Capabilities is the card's capability section.
type Capabilities struct {
	Tools []Tool `json:"tools"`
}

// Endpoints names the invocation endpoint.
type Endpoints struct {
	Invoke string `json:"invoke"`
}

// Auth describes the scheme a remote agent requires.
type Auth struct {
	Scheme string `json:"scheme"`
}

// AgentCard is the document a remote agent publishes at a stable,
// well-known path.
type AgentCard struct {
	Name string `json:"name"`
	Description string `json:"description"`
	Tags []string `json:"tags,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Endpoints Endpoints `json:"endpoints"`
	Auth Auth `json:"auth,omitempty"`
}

// Validate reports the first structural defect found: name, description,
// capabilities.tools[] with name+description each, and an invocation
// endpoint are all required.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return errMissingField("name")
	}
	if c.Description == "" {
		return errMissingField("description")
	}
	if len(c.Capabilities.Tools) == 0 {
		return errMissingField("capabilities.tools")
	}
	for i, t := range c.Capabilities.Tools {
		if t.Name == "" {
			return errMissingField(indexedField(i, "name"))
		}
		if t.Description == "" {
			return errMissingField(indexedField(i, "description"))
		}
	}
	if c.Endpoints.Invoke == "" {
		return errMissingField("endpoints.invoke")
	}
	return nil
}

func indexedField(i int, field string) string {
	return "capabilities.tools[" + strconv.Itoa(i) + "]." + field
}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return "agent card missing field: " + e.field }

func errMissingField(field string) error { return &missingFieldError{field: field} }
