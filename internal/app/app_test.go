package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/notify"
	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/registry"
	"github.com/blackwell-systems/agentpulse/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		ClaudeHome: filepath.Join(home, ".claude"),
		CodexHome:  filepath.Join(home, ".codex"),
		CursorHome: filepath.Join(home, ".cursor"),
		Timing: config.Timing{
			PollInterval:    10 * time.Millisecond,
			ScanInterval:    10 * time.Millisecond,
			ToolDoneDelay:   5 * time.Millisecond,
			PermissionDelay: time.Hour,
			IdleDelay:       time.Hour,
		},
		Display: config.DefaultDisplay,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"watch": false, "launch": false, "agents": false, "history": false, "replay": false}
	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "%s subcommand not registered on rootCmd", name)
	}
}

func TestReplay_CodexTurnJSON(t *testing.T) {
	transcript := strings.Join([]string{
		`{"type":"TurnStarted"}`,
		`{"type":"ExecCommandBegin","id":"a1","command":"ls -la"}`,
		``,
		`{"type":"ExecCommandEnd","id":"a1"}`,
		`{"type":"TurnEnded"}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, replay(&out, testConfig(t), agent.Codex, strings.NewReader(transcript), 0, true))

	var types []agent.EventType
	dec := json.NewDecoder(&out)
	for dec.More() {
		var ev agent.Event
		require.NoError(t, dec.Decode(&ev))
		assert.Equal(t, 1, ev.ID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []agent.EventType{
		agent.EventStatus,
		agent.EventToolStart,
		agent.EventToolDone,
		agent.EventToolsClear,
		agent.EventStatus,
	}, types)
}

func TestReplay_SummaryListsOpenTools(t *testing.T) {
	output.SetNoColor(true)
	transcript := `{"type":"TurnStarted"}
{"type":"ExecCommandBegin","id":"a1","command":"go test ./..."}
`
	var out bytes.Buffer
	require.NoError(t, replay(&out, testConfig(t), agent.Codex, strings.NewReader(transcript), 0, false))

	text := out.String()
	assert.Contains(t, text, "codex replay")
	assert.Contains(t, text, "2 lines")
	assert.Contains(t, text, "1 tool(s) in flight")
	assert.Contains(t, text, "Running: go test ./...")
}

func TestReplay_UnknownProvider(t *testing.T) {
	err := replay(&bytes.Buffer{}, testConfig(t), agent.Kind("aider"), strings.NewReader(""), 0, false)
	assert.ErrorIs(t, err, provider.ErrUnknownKind)
}

func TestParseFollow(t *testing.T) {
	specs, err := parseFollow([]string{"claude=/tmp/a.jsonl"})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, agent.Claude, specs[0].kind)
	assert.Equal(t, "/tmp/a.jsonl", specs[0].path)

	_, err = parseFollow([]string{"claude"})
	assert.Error(t, err)
	_, err = parseFollow([]string{"aider=/tmp/a.jsonl"})
	assert.Error(t, err)
}

func TestResolveDirs(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	dirs, err := resolveDirs(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{wd}, dirs)

	dirs, err = resolveDirs([]string{"sub"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(wd, "sub")}, dirs)
}

func TestPersister_MirrorsRegistryUntilStopped(t *testing.T) {
	cfg := testConfig(t)
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	nm := &names{}
	pers := &persister{db: db, names: nm, logger: discardLogger()}
	pers.keepRow(store.AgentRow{ID: 40, Provider: "cursor", TerminalName: "Cursor #40"})
	reg := registry.New(registry.Options{
		Providers:    provider.All(providerOptions(cfg)),
		PollInterval: cfg.Timing.PollInterval,
		OnChange:     pers.changed,
		Logger:       discardLogger(),
	})
	pers.attach(reg)

	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	id, err := reg.Adopt(agent.Claude, path)
	require.NoError(t, err)

	rows, err := db.ListAgents()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, path, rows[0].TranscriptPath)
	assert.Equal(t, 40, rows[1].ID)
	assert.Equal(t, "claude #1", nm.get(id))

	pers.stopped.Store(true)
	require.NoError(t, reg.Close())

	rows, err = db.ListAgents()
	require.NoError(t, err)
	assert.Len(t, rows, 2, "shutdown must not clear saved agents")
}

func TestPump_PrintsRecordsAndNotifies(t *testing.T) {
	output.SetNoColor(true)
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	nm := &names{}
	nm.set([]registry.Snapshot{{ID: 2, TerminalName: "Codex #2"}})
	var sent []notify.Notification
	var out bytes.Buffer
	var seen int
	p := &pump{
		out: &out,
		db:  db,
		notifier: &notify.Notifier{
			Name: nm.get,
			Send: func(n notify.Notification) error { sent = append(sent, n); return nil },
		},
		names:   nm,
		logger:  discardLogger(),
		onEvent: func(agent.Event) { seen++ },
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := make(chan agent.Event, 2)
	events <- agent.Event{Type: agent.EventToolStart, ID: 2, ToolID: "t1", Status: "Running: ls", Time: at}
	events <- agent.Event{Type: agent.EventToolPermission, ID: 2, Time: at.Add(time.Second)}
	close(events)
	p.run(events)

	assert.Equal(t, 2, seen)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "#2 Codex #2")
	assert.Contains(t, lines[0], "Running: ls")
	assert.Contains(t, lines[1], "needs permission")

	rows, err := db.RecentEvents(store.EventFilter{AgentID: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t1", rows[0].ToolID)
	assert.Equal(t, string(agent.EventToolPermission), rows[1].Type)

	require.Len(t, sent, 1)
	assert.Equal(t, "Codex #2 is waiting for permission", sent[0].Message)
}

func TestListAgents_LatestStatus(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.ReplaceAgents([]store.AgentRow{
		{ID: 1, Provider: "claude", TerminalName: "Claude Code #1"},
		{ID: 2, Provider: "codex", TerminalName: "Codex #2"},
	}))
	at := time.Now().Add(-time.Minute)
	for i, ev := range []agent.Event{
		{Type: agent.EventStatus, ID: 1, Status: "active"},
		{Type: agent.EventToolStart, ID: 1, ToolID: "t1"},
		{Type: agent.EventToolPermission, ID: 1},
		{Type: agent.EventStatus, ID: 2, Status: "waiting"},
	} {
		ev.Time = at.Add(time.Duration(i) * time.Second)
		_, err := db.InsertEvent(eventRow(ev))
		require.NoError(t, err)
	}

	rows, err := listAgents(db)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "active", rows[0].Status)
	assert.True(t, rows[0].Permission)
	assert.Equal(t, "waiting", rows[1].Status)
	assert.False(t, rows[1].Permission)
}

func TestEventRowRoundTrip(t *testing.T) {
	ev := agent.Event{Type: agent.EventSubagentToolStart, ID: 3, ToolID: "s1", ParentToolID: "p1", Status: "Reading a.go", Time: time.Now()}
	assert.Equal(t, ev, rowEvent(eventRow(ev)))
}
