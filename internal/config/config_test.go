package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTiming, cfg.Timing)
	assert.Equal(t, DefaultDisplay, cfg.Display)
	assert.True(t, cfg.Output.Color)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, DefaultHistory, cfg.History)
	assert.Equal(t, expandPath(DefaultClaudeHome), cfg.ClaudeHome)
	assert.Equal(t, expandPath(DefaultCodexHome), cfg.CodexHome)
	assert.Equal(t, expandPath(DefaultCursorHome), cfg.CursorHome)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `codex_home: /opt/codex
timing:
  poll_interval: 250ms
  permission_delay: 10s
display:
  command_max: 50
notify:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/codex", cfg.CodexHome)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Timing.PermissionDelay)
	assert.Equal(t, DefaultTiming.IdleDelay, cfg.Timing.IdleDelay)
	assert.Equal(t, 50, cfg.Display.CommandMax)
	assert.Equal(t, DefaultDisplay.DescriptionMax, cfg.Display.DescriptionMax)
	assert.False(t, cfg.Notify.Enabled)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timing: [not: a map"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".codex"), expandPath("~/.codex"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "rel", expandPath("rel"))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, DefaultDBName, filepath.Base(DBPath()))
	assert.Equal(t, DefaultLogName, filepath.Base(LogPath()))
	assert.Equal(t, ConfigDir(), filepath.Dir(DBPath()))
}
