package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithNoFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, "registry.yaml", cfg.RegistryConfigPath)
	require.Equal(t, "sqlite3", cfg.SessionDBDriver)
}

func TestLoadConfigReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry_config_path: custom-registry.yaml\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "custom-registry.yaml", cfg.RegistryConfigPath)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestWithCancelOnSignalCancelsOnContextParentDone(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	ctx, cancel := withCancelOnSignal(parent)
	defer cancel()

	parentCancel()
	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
