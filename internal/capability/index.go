// Package capability implements an in-memory, copy-on-write snapshot of
// enabled AgentRecords, scored against a query.
package capability

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
)

const (
	domainWeight = 0.4
	entityWeight = 0.3
	keywordWeight = 0.2
	operationWeight = 0.1
)

// Score is one scored candidate.
type Score struct {
	Name string
	Score float64
	Priority int
}

// Index is the Capability Index. Zero value is not usable; use New.
type Index struct {
	mu sync.Mutex // guards swapping the snapshot pointer
	snapshot atomic.Pointer[snapshot]

	Threshold float64
	Stage1K int
}

type snapshot struct {
	records []agentmodel.AgentRecord
}

// New creates an empty index with the given defaults (default
// threshold 0.1, default stage1_k 10).
func New(threshold float64, stage1K int) *Index {
	idx := &Index{Threshold: threshold, Stage1K: stage1K}
	idx.snapshot.Store(&snapshot{})
	return idx
}

// Refresh atomically replaces the snapshot with the given enabled
// records.
func (idx *Index) Refresh(records []agentmodel.AgentRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cloned := make([]agentmodel.AgentRecord, len(records))
	for i, r := range records {
		cloned[i] = r.Clone()
	}
	idx.snapshot.Store(&snapshot{records: cloned})
}

// normalize lower-cases and collapses whitespace for substring matching.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// containsTerm reports whether term appears in query as a whitespace-
// bounded substring. Both inputs are assumed already
// normalized (lowercased).
func containsTerm(query, term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return false
	}
	// Whole-word / whole-phrase match: term must be surrounded by the
	// start/end of the string or whitespace.
	pattern := `(^|\s)` + regexp.QuoteMeta(term) + `($|\s)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(query, term)
	}
	return re.MatchString(query)
}

func matchesAny(query string, terms []string) bool {
	for _, t := range terms {
		if containsTerm(query, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// scoreRecord computes the weighted-sum score for one record.
func scoreRecord(query string, cap agentmodel.Capability) float64 {
	var score float64
	if matchesAny(query, cap.Domains) {
		score += domainWeight
	}
	if matchesAny(query, cap.Entities) {
		score += entityWeight
	}
	if matchesAny(query, cap.Keywords) {
		score += keywordWeight
	}
	if matchesAny(query, cap.Operations) {
		score += operationWeight
	}
	return score
}

// Score scores query against every record in the current snapshot and
// returns the candidates at or above Threshold, sorted by
// (-score, -priority, name) and truncated to Stage1K.
func (idx *Index) Score(query string) []Score {
	snap := idx.snapshot.Load()
	normalized := normalize(query)

	out := make([]Score, 0, len(snap.records))
	for _, r := range snap.records {
		s := scoreRecord(normalized, r.Capabilities)
		if s >= idx.Threshold {
			out = append(out, Score{Name: r.Name, Score: s, Priority: r.Capabilities.Priority})
		}
	}

	sort.Slice(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].Name < out[j].Name
	})

	k := idx.Stage1K
	if k <= 0 || k > len(out) {
		k = len(out)
	}
	return out[:k]
}

// ApplyBias adds bonus to the named candidate's score without changing
// the presence of other candidates, then
// re-sorts. If name is not present in scores, it is a no-op.
func ApplyBias(scores []Score, name string, bonus float64) []Score {
	found := false
	for i := range scores {
		if scores[i].Name == name {
			scores[i].Score += bonus
			found = true
			break
		}
	}
	if !found {
		return scores
	}
	out := append([]Score(nil), scores...)
	sort.Slice(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].Name < out[j].Name
	})
	return out
}
