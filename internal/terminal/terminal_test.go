//go:build !windows

package terminal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/agentpulse/internal/provider"
)

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestLocal_StartRunsInDirWithName(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	l := &Local{Stdout: &out, Stderr: &out}

	h, err := l.Start(context.Background(), provider.TerminalSpec{
		Name:    "Claude Code #1",
		Dir:     dir,
		Command: "sh",
		Args:    []string{"-c", `pwd; echo "$AGENTPULSE_TERMINAL"`},
	})
	require.NoError(t, err)
	assert.Equal(t, "Claude Code #1", h.Name())
	wait(t, h.Done())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(lines[0])
	assert.Equal(t, want, got)
	assert.Equal(t, "Claude Code #1", lines[1])
	assert.NoError(t, h.(*Process).Err())
}

func TestLocal_AttachUntilExit(t *testing.T) {
	l := &Local{}
	h, err := l.Start(context.Background(), provider.TerminalSpec{
		Name: "Codex #2", Dir: os.TempDir(), Command: "sleep", Args: []string{"30"},
	})
	require.NoError(t, err)

	got, ok := l.Attach("Codex #2")
	require.True(t, ok)
	assert.Same(t, h, got)
	_, ok = l.Attach("Codex #3")
	assert.False(t, ok)

	require.NoError(t, l.Close())
	wait(t, h.Done())
	assert.Error(t, h.(*Process).Err())

	_, ok = l.Attach("Codex #2")
	assert.False(t, ok)
}

func TestLocal_StartUnknownCommand(t *testing.T) {
	l := &Local{}
	_, err := l.Start(context.Background(), provider.TerminalSpec{
		Name: "x", Command: "agentpulse-no-such-binary",
	})
	assert.Error(t, err)
}
