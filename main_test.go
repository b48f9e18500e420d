package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, argv ...string) (*cobra.Command, options) {
	t.Helper()
	cmd := &cobra.Command{}
	var opts options
	bindFlags(cmd.Flags(), &opts)
	require.NoError(t, cmd.ParseFlags(argv))
	return cmd, opts
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd, opts := parseFlags(t)

	cfg, err := loadConfig(cmd, []string{"peers.txt", "B"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "peers.txt", cfg.Node.PeersFile)
	assert.Equal(t, "B", cfg.Node.ID)
	assert.Equal(t, "tui", cfg.UI.Mode)
	assert.False(t, cfg.UI.Bell)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rosterchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[ui]
mode = "tui"
bell = true

[logging]
level = "warn"

[metrics]
listen = "127.0.0.1:9100"
`), 0o644))

	cmd, opts := parseFlags(t,
		"--config", path,
		"--cli",
		"--bell=false",
		"--log-level", "debug",
		"--metrics", "127.0.0.1:9200",
	)

	cfg, err := loadConfig(cmd, []string{"peers.txt", "B"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "cli", cfg.UI.Mode)
	assert.False(t, cfg.UI.Bell)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Listen)
}

func TestLoadConfigBellFileEnablesBell(t *testing.T) {
	cmd, opts := parseFlags(t, "--bell-file", "/tmp/ding.wav")

	cfg, err := loadConfig(cmd, []string{"peers.txt", "B"}, opts)
	require.NoError(t, err)
	assert.True(t, cfg.UI.Bell)
	assert.Equal(t, "/tmp/ding.wav", cfg.UI.BellFile)
}

func TestRootCommandRequiresTwoArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"peers.txt"})
	assert.Error(t, cmd.Execute())
}
