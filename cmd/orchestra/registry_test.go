package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/registrystore"
)

func writeTestOrchestraConfig(t *testing.T, registryPath string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "orchestra.yaml")
	contents := fmt.Sprintf("registry_config_path: %s\n", registryPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0o644))
	return cfgPath
}

func TestMigrateCmdImportsLegacyAgentsAsPending(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.yaml")
	registryPath := filepath.Join(dir, "registry.yaml")

	legacy := "" +
		"- name: TicketsAgent\n" +
		"  description: Handles support tickets\n" +
		"  domains: [support]\n" +
		"  keywords: [ticket, issue]\n" +
		"  endpoint: https://tickets.example.com/card\n"
	require.NoError(t, os.WriteFile(legacyPath, []byte(legacy), 0o644))

	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &MigrateCmd{From: legacyPath}
	require.NoError(t, cmd.Run(cli))

	store := registrystore.New(registryPath)
	doc, err := store.Load()
	require.NoError(t, err)
	rec, ok := doc.Agents["TicketsAgent"]
	require.True(t, ok)
	require.Equal(t, agentmodel.StatusPending, rec.Status)
	require.Equal(t, agentmodel.KindRemote, rec.Kind)
	require.False(t, rec.Enabled)
	require.Equal(t, []string{"support"}, rec.Capabilities.Domains)
}

func TestMigrateCmdSkipsAlreadyPresentAgents(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "legacy.yaml")
	registryPath := filepath.Join(dir, "registry.yaml")

	require.NoError(t, os.WriteFile(legacyPath, []byte("- name: TicketsAgent\n  description: d\n  domains: [support]\n"), 0o644))

	store := registrystore.New(registryPath)
	require.NoError(t, store.Save(&registrystore.Document{
		Agents: map[string]agentmodel.AgentRecord{
			"TicketsAgent": {Name: "TicketsAgent", Kind: agentmodel.KindRemote, Status: agentmodel.StatusApproved},
		},
	}))

	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &MigrateCmd{From: legacyPath}
	require.NoError(t, cmd.Run(cli))

	doc, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, agentmodel.StatusApproved, doc.Agents["TicketsAgent"].Status)
}

func TestMigrateCmdMissingLegacyFileErrors(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "registry.yaml")
	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &MigrateCmd{From: filepath.Join(t.TempDir(), "missing.yaml")}
	require.Error(t, cmd.Run(cli))
}

func TestListCmdRunsAgainstExistingRegistry(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "registry.yaml")
	store := registrystore.New(registryPath)
	require.NoError(t, store.Save(&registrystore.Document{
		Agents: map[string]agentmodel.AgentRecord{
			"TicketsAgent": {Name: "TicketsAgent", Kind: agentmodel.KindLocal, Status: agentmodel.StatusApproved, Enabled: true},
		},
	}))

	cli := &CLI{Config: writeTestOrchestraConfig(t, registryPath)}
	cmd := &ListCmd{}
	require.NoError(t, cmd.Run(cli))
}
