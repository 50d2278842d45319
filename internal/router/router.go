// Package router implements the Two-Stage Router (C6): cheap Stage-1
// capability scoring followed by Stage-2 LLM adjudication over the
// shortlist.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/llm"
)

// AgentLister is the subset of the Agent Registry (C3) the router needs.
type AgentLister interface {
	Get(name string) (agentmodel.AgentRecord, error)
}

// Router is the Two-Stage Router (C6).
type Router struct {
	index *capability.Index
	agents AgentLister
	llmClient llm.Client
	contextBias float64
}

// New builds a Router. contextBias is the additive Stage-2-pre bonus
// applied to the session's last-called agent if present among the
// Stage-1 candidates.
func New(index *capability.Index, agents AgentLister, llmClient llm.Client, contextBias float64) *Router {
	return &Router{index: index, agents: agents, llmClient: llmClient, contextBias: contextBias}
}

// Result is the outcome of one routing call.
type Result struct {
	Selected []agentmodel.AgentRecord
	Stage1Scores []capability.Score
	Stage2Prompt string
}

// Route selects zero or more target agents for query. lastAgentCalled
// (from session_context, empty if none) feeds the context bias.
func (r *Router) Route(ctx context.Context, query string, lastAgentCalled string) (Result, error) {
	scores := r.index.Score(query)
	if lastAgentCalled != "" {
		scores = capability.ApplyBias(scores, lastAgentCalled, r.contextBias)
	}

	if len(scores) == 0 {
		return Result{}, nil
	}

	if len(scores) == 1 {
		rec, err := r.agents.Get(scores[0].Name)
		if err != nil {
			return Result{}, nil
		}
		return Result{Selected: []agentmodel.AgentRecord{rec}, Stage1Scores: scores}, nil
	}

	candidates := make([]agentmodel.AgentRecord, 0, len(scores))
	for _, sc := range scores {
		rec, err := r.agents.Get(sc.Name)
		if err == nil {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return Result{Stage1Scores: scores}, nil
	}

	selectedNames, prompt, err := r.stage2(ctx, query, candidates)
	if err != nil || len(selectedNames) == 0 {
		// Stage-2 failure or empty selection falls back to Stage-1 top 1.
		top, err := r.agents.Get(scores[0].Name)
		if err != nil {
			return Result{Stage1Scores: scores, Stage2Prompt: prompt}, nil
		}
		return Result{Selected: []agentmodel.AgentRecord{top}, Stage1Scores: scores, Stage2Prompt: prompt}, nil
	}

	selectedSet := make(map[string]bool, len(selectedNames))
	for _, n := range selectedNames {
		selectedSet[n] = true
	}
	var selected []agentmodel.AgentRecord
	for _, c := range candidates {
		if selectedSet[c.Name] {
			selected = append(selected, c)
		}
	}
	return Result{Selected: selected, Stage1Scores: scores, Stage2Prompt: prompt}, nil
}

// buildStage2Prompt lists each candidate's name, description, examples,
// and domains, and instructs the LLM to return a JSON list of names.
func buildStage2Prompt(query string, candidates []agentmodel.AgentRecord) string {
	var b strings.Builder
	b.WriteString("You are routing a user query to one or more specialized agents.\n")
	b.WriteString("Query: " + query + "\n\n")
	b.WriteString("Candidate agents:\n")
	for _, c := range candidates {
		b.WriteString(fmt.Sprintf("- %s: %s (domains: %s; examples: %s)\n",
				c.Name, c.Description,
				strings.Join(c.Capabilities.Domains, ", "),
				strings.Join(c.Capabilities.Examples, "; ")))
	}
	b.WriteString("\nReturn ONLY a JSON array of the agent names (exactly as given) that should handle this query. ")
	b.WriteString("Return an empty array if none apply.")
	return b.String()
}

func (r *Router) stage2(ctx context.Context, query string, candidates []agentmodel.AgentRecord) ([]string, string, error) {
	prompt := buildStage2Prompt(query, candidates)
	raw, err := r.llmClient.Complete(ctx, prompt)
	if err != nil {
		return nil, prompt, err
	}

	names, ok := parseNameList(raw)
	if !ok {
		return nil, prompt, fmt.Errorf("router: stage-2 returned invalid JSON")
	}

	candidateSet := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c.Name] = true
	}
	var valid []string
	for _, n := range names {
		if candidateSet[n] {
			valid = append(valid, n)
		}
	}
	return valid, prompt, nil
}

// parseNameList extracts a JSON array of strings from raw, tolerating a
// surrounding code fence or prose the LLM might add.
func parseNameList(raw string) ([]string, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}
	var names []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &names); err != nil {
		return nil, false
	}
	return names, true
}

// Explain runs the same two stages as Route, including the Stage-2 LLM
// call, and returns the same Result.
func (r *Router) Explain(ctx context.Context, query, lastAgentCalled string) (Result, error) {
	return r.Route(ctx, query, lastAgentCalled)
}

// sortedNames returns the agent names of scores in lexical order.
func sortedNames(scores []capability.Score) []string {
	names := make([]string, len(scores))
	for i, s := range scores {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}
