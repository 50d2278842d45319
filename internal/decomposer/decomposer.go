// Package decomposer implements the Query Decomposer (C7): splitting an
// original query into per-agent sub-queries and injecting the
// authenticated user's identity into first-person references.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/llm"
)

// Decomposer is the Query Decomposer (C7).
type Decomposer struct {
	llmClient llm.Client
}

// New builds a Decomposer.
func New(llmClient llm.Client) *Decomposer {
	return &Decomposer{llmClient: llmClient}
}

var (
	reMy = regexp.MustCompile(`(?i)\bmy\b`)
	reI = regexp.MustCompile(`(?i)\bI\b`)
	reMe = regexp.MustCompile(`(?i)\bme\b`)
)

// Inject performs whole-word, case-insensitive user-context injection:
// "my" -> "<user_id>'s", "I"/"me" -> "<user_id>".
func Inject(query, userID string) string {
	out := reMy.ReplaceAllString(query, userID+"'s")
	out = reI.ReplaceAllString(out, userID)
	out = reMe.ReplaceAllString(out, userID)
	return out
}

// Decompose produces one sub-query per selected agent. For a
// single selected agent it uses whole-word injection only; for multiple
// it asks the LLM for a per-agent JSON mapping, never revealing bearer.
func (d *Decomposer) Decompose(ctx context.Context, originalQuery string, selected []agentmodel.AgentRecord, userID string) (map[string]string, error) {
	if len(selected) == 0 {
		return map[string]string{}, nil
	}

	injected := Inject(originalQuery, userID)

	if len(selected) == 1 {
		return map[string]string{selected[0].Name: injected}, nil
	}

	prompt := buildDecomposePrompt(originalQuery, userID, selected)
	raw, err := d.llmClient.Complete(ctx, prompt)

	out := make(map[string]string, len(selected))
	var parsed map[string]string
	if err == nil {
		parsed, _ = parseSubQueryMap(raw)
	}

	for _, agent := range selected {
		if sub, ok := parsed[agent.Name]; ok && strings.TrimSpace(sub) != "" {
			out[agent.Name] = sub
		} else {
			// Missing key or decomposition failure falls back to the
			// injected form of the original query for that agent.
			out[agent.Name] = injected
		}
	}
	return out, nil
}

func buildDecomposePrompt(query, userID string, selected []agentmodel.AgentRecord) string {
	var b strings.Builder
	b.WriteString("Split the following query into a standalone sub-query for each listed agent.\n")
	b.WriteString(fmt.Sprintf("User id: %s\n", userID))
	b.WriteString("Resolve first-person references (\"my\", \"I\", \"me\") to the user id above.\n")
	b.WriteString("Query: " + query + "\n\n")
	b.WriteString("Agents:\n")
	for _, a := range selected {
		b.WriteString(fmt.Sprintf("- %s: %s\n", a.Name, a.Description))
	}
	b.WriteString("\nReturn ONLY a JSON object mapping each agent name to its sub-query string.")
	return b.String()
}

// parseSubQueryMap extracts a JSON object of name->subquery, tolerating
// surrounding prose or a code fence.
func parseSubQueryMap(raw string) (map[string]string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &m); err != nil {
		return nil, false
	}
	return m, true
}
