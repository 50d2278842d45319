package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/registrystore"
)

func TestExplainCmdRunsWithoutDispatching(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "registry.yaml")
	store := registrystore.New(registryPath)
	require.NoError(t, store.Save(&registrystore.Document{
		Agents: map[string]agentmodel.AgentRecord{
			"TicketsAgent": {
				Name: "TicketsAgent",
				Kind: agentmodel.KindLocal,
				Enabled: true,
				Capabilities: agentmodel.Capability{
					Domains: []string{"support"},
					Keywords: []string{"ticket", "tickets"},
				},
			},
		},
	}))

	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &ExplainCmd{Query: "show my open tickets"}
	require.NoError(t, cmd.Run(cli))
}

func TestExplainCmdWithLastAgentAppliesContextBias(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "registry.yaml")
	store := registrystore.New(registryPath)
	require.NoError(t, store.Save(&registrystore.Document{
		Agents: map[string]agentmodel.AgentRecord{
			"TicketsAgent": {
				Name: "TicketsAgent",
				Kind: agentmodel.KindLocal,
				Enabled: true,
				Capabilities: agentmodel.Capability{Domains: []string{"support"}, Keywords: []string{"ticket"}},
			},
			"BillingAgent": {
				Name: "BillingAgent",
				Kind: agentmodel.KindLocal,
				Enabled: true,
				Capabilities: agentmodel.Capability{Domains: []string{"billing"}, Keywords: []string{"invoice"}},
			},
		},
	}))

	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &ExplainCmd{Query: "show my tickets and invoice", LastAgent: "TicketsAgent"}
	require.NoError(t, cmd.Run(cli))
}
