package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
)

func record(name string, priority int, domains, entities, keywords, operations []string) agentmodel.AgentRecord {
	return agentmodel.AgentRecord{
		Name: name,
		Enabled: true,
		Capabilities: agentmodel.Capability{
			Domains: domains,
			Entities: entities,
			Keywords: keywords,
			Operations: operations,
			Priority: priority,
		},
	}
}

func TestScore_S1SingleDomain(t *testing.T) {
	idx := New(0.1, 10)
	idx.Refresh([]agentmodel.AgentRecord{
			record("TicketsAgent", 0, []string{"tickets", "IT"}, nil, nil, nil),
			record("FinOpsAgent", 0, []string{"finops", "costs"}, nil, nil, nil),
			record("OxygenAgent", 0, []string{"learning", "courses"}, nil, nil, nil),
	})

	scores := idx.Score("show my tickets")
	require.NotEmpty(t, scores)
	require.Equal(t, "TicketsAgent", scores[0].Name)
	require.GreaterOrEqual(t, scores[0].Score, 0.4)
}

func TestScore_MultiDomain(t *testing.T) {
	idx := New(0.1, 10)
	idx.Refresh([]agentmodel.AgentRecord{
			record("TicketsAgent", 0, []string{"tickets"}, nil, nil, nil),
			record("OxygenAgent", 0, nil, []string{"exams"}, nil, nil),
			record("FinOpsAgent", 0, []string{"finops"}, nil, nil, nil),
	})

	scores := idx.Score("show my tickets and my pending exams")
	names := map[string]bool{}
	for _, s := range scores {
		names[s.Name] = true
	}
	require.True(t, names["TicketsAgent"])
	require.True(t, names["OxygenAgent"])
	require.False(t, names["FinOpsAgent"])
}

func TestScore_WholeWordOnly(t *testing.T) {
	idx := New(0.1, 10)
	idx.Refresh([]agentmodel.AgentRecord{
			record("CatAgent", 0, []string{"cat"}, nil, nil, nil),
	})

	// "category" contains "cat" as a substring but not as a whole word.
	scores := idx.Score("show me the category list")
	require.Empty(t, scores)
}

func TestScore_ThresholdAndTruncation(t *testing.T) {
	idx := New(0.5, 1)
	idx.Refresh([]agentmodel.AgentRecord{
			record("A", 0, []string{"tickets"}, nil, nil, nil), // only domain match = 0.4 < 0.5
			record("B", 1, []string{"tickets"}, []string{"tickets"}, nil, nil),
	})

	scores := idx.Score("my tickets")
	require.Len(t, scores, 1)
	require.Equal(t, "B", scores[0].Name)
}

func TestScore_Deterministic(t *testing.T) {
	idx := New(0.1, 10)
	records := []agentmodel.AgentRecord{
		record("Zed", 0, []string{"tickets"}, nil, nil, nil),
		record("Alpha", 0, []string{"tickets"}, nil, nil, nil),
	}
	idx.Refresh(records)

	first := idx.Score("my tickets")
	second := idx.Score("my tickets")
	require.Equal(t, first, second)
	// Tie on score and priority breaks lexically ascending.
	require.Equal(t, "Alpha", first[0].Name)
	require.Equal(t, "Zed", first[1].Name)
}

func TestApplyBias(t *testing.T) {
	scores := []Score{
		{Name: "A", Score: 0.4},
		{Name: "B", Score: 0.3},
	}
	biased := ApplyBias(scores, "B", 0.15)
	require.Equal(t, "B", biased[0].Name)
	require.InDelta(t, 0.45, biased[0].Score, 1e-9)
}

func TestApplyBias_NameNotPresent(t *testing.T) {
	scores := []Score{{Name: "A", Score: 0.4}}
	biased := ApplyBias(scores, "Z", 0.15)
	require.Equal(t, scores, biased)
}
