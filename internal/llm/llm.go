// Package llm defines the minimal LLM adjudication surface the router
// (C6) and decomposer (C7) depend on, plus a production client and a
// deterministic test fixture. Stage-2 routing and
// decomposition are the system's only nondeterministic components;
// everything else is tested without touching this package's production
// implementation.
package llm

import "context"

// Client is the narrow LLM surface the router and decomposer need: send
// a prompt, get text back. Structured-output parsing (JSON extraction)
// is the caller's responsibility, matching how the router and decomposer
// each validate the shape they expect.
type Client interface {
	// Complete sends prompt and returns the model's raw text response.
	Complete(ctx context.Context, prompt string) (string, error)
}
