package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("username", "", "")
	cmd.Flags().String("password", "", "")
	cmd.Flags().String("site", "", "")
	cmd.Flags().String("log-level", "", "")
	return cmd
}

func TestLoadConfig_AppliesFlagOverrides(t *testing.T) {
	cmd := newTestCommand(t)
	require.NoError(t, cmd.Flags().Set("config", t.TempDir()+"/missing.yaml"))
	require.NoError(t, cmd.Flags().Set("username", "alice"))
	require.NoError(t, cmd.Flags().Set("site", "site-7"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Plejd.Username)
	assert.Equal(t, "site-7", cfg.Plejd.SiteID)
}

func TestConfigureLogger_RejectsInvalidLevel(t *testing.T) {
	cmd := newTestCommand(t)
	require.NoError(t, cmd.Flags().Set("config", t.TempDir()+"/missing.yaml"))
	require.NoError(t, cmd.Flags().Set("log-level", "not-a-level"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	_, err = configureLogger(cmd, cfg)
	assert.Error(t, err)
}
