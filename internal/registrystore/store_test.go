package registrystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/orcherr"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	s := New(path)

	doc := &Document{
		Agents: map[string]agentmodel.AgentRecord{
			"TicketsAgent": {
				Name: "TicketsAgent",
				Kind: agentmodel.KindLocal,
				Enabled: true,
				Capabilities: agentmodel.Capability{
					Domains: []string{"tickets"},
				},
			},
		},
	}

	require.NoError(t, s.Save(doc))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, loaded.Version)
	require.Contains(t, loaded.Agents, "TicketsAgent")
	require.True(t, loaded.Agents["TicketsAgent"].Enabled)

	_, err = os.Stat(path + ".backup")
	require.NoError(t, err)
}

func TestLoadFallsBackToBackupOnCorruptLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	s := New(path)

	doc := &Document{Agents: map[string]agentmodel.AgentRecord{
			"A": {Name: "A", Kind: agentmodel.KindLocal, Enabled: true},
	}}
	require.NoError(t, s.Save(doc))
	require.NoError(t, s.Save(doc)) // now backup exists with valid content

	// Corrupt the live file directly.
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded.Agents, "A")
}

func TestLoadReturnsStoreCorruptWhenBothUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	require.NoError(t, os.WriteFile(path+".backup", []byte("also: [invalid"), 0o644))

	s := New(path)
	doc, err := s.Load()
	require.ErrorIs(t, err, orcherr.ErrStoreCorrupt)
	require.Empty(t, doc.Agents)
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	s := New(path)

	first := &Document{Agents: map[string]agentmodel.AgentRecord{"A": {Name: "A"}}}
	require.NoError(t, s.Save(first))

	second := &Document{Agents: map[string]agentmodel.AgentRecord{"B": {Name: "B"}}}
	require.NoError(t, s.Save(second))

	require.NoError(t, s.RestoreFromBackup())

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, loaded.Agents, "A")
}
