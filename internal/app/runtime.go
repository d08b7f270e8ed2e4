package app

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/registry"
	"github.com/blackwell-systems/agentpulse/internal/store"
)

// eventBuffer bounds how far event handling may fall behind the registry
// before emitting agents block.
const eventBuffer = 256

// providerOptions maps configuration onto the provider set.
func providerOptions(cfg *config.Config) provider.Options {
	return provider.Options{
		ClaudeHome:     cfg.ClaudeHome,
		CodexHome:      cfg.CodexHome,
		CursorHome:     cfg.CursorHome,
		CommandMax:     cfg.Display.CommandMax,
		DescriptionMax: cfg.Display.DescriptionMax,
	}
}

// delays maps configuration onto the state machine's timer delays.
func delays(cfg *config.Config) agent.Delays {
	return agent.Delays{
		ToolDone:   cfg.Timing.ToolDoneDelay,
		Permission: cfg.Timing.PermissionDelay,
		Idle:       cfg.Timing.IdleDelay,
	}
}

// selectProviders returns the providers named in names, or all of them
// when names is empty.
func selectProviders(cfg *config.Config, names []string) (map[agent.Kind]provider.Provider, error) {
	all := provider.All(providerOptions(cfg))
	if len(names) == 0 {
		return all, nil
	}
	out := make(map[agent.Kind]provider.Provider, len(names))
	for _, n := range names {
		kind, err := provider.ParseKind(n)
		if err != nil {
			return nil, err
		}
		out[kind] = all[kind]
	}
	return out, nil
}

// openStore opens the database at the default location, creating the
// config directory on first use.
func openStore() (*store.DB, error) {
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	db, err := store.Open(config.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// names caches terminal names by agent id. Event handlers read it instead
// of querying the registry, which must not be called from a Sink.
type names struct {
	mu sync.RWMutex
	m  map[int]string
}

func (n *names) set(views []registry.Snapshot) {
	m := make(map[int]string, len(views))
	for _, v := range views {
		m[v.ID] = v.TerminalName
	}
	n.mu.Lock()
	n.m = m
	n.mu.Unlock()
}

func (n *names) get(id int) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.m[id]
}

// persister mirrors the registry's snapshots into the agents table. Once
// stopped it ignores changes, so shutting down keeps the last set of
// agents for the next run to restore.
type persister struct {
	db      *store.DB
	names   *names
	logger  *slog.Logger
	stopped atomic.Bool

	// keep holds saved agents of providers this run does not track.
	keep []store.AgentRow

	mu  sync.Mutex
	reg *registry.Registry
}

func (p *persister) changed() {
	if p.stopped.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reg == nil {
		return
	}
	snaps := p.reg.Snapshots()
	if p.names != nil {
		p.names.set(snaps)
	}
	if p.db == nil {
		return
	}
	rows := append(snapshotRows(snaps), p.keep...)
	if err := p.db.ReplaceAgents(rows); err != nil {
		p.logger.Error("saving agents failed", "err", err)
	}
}

func (p *persister) keepRow(row store.AgentRow) {
	p.mu.Lock()
	p.keep = append(p.keep, row)
	p.mu.Unlock()
}

func (p *persister) attach(reg *registry.Registry) {
	p.mu.Lock()
	p.reg = reg
	p.mu.Unlock()
}

func snapshotRows(snaps []registry.Snapshot) []store.AgentRow {
	rows := make([]store.AgentRow, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, store.AgentRow{
			ID:             s.ID,
			Provider:       string(s.Provider),
			TerminalName:   s.TerminalName,
			TranscriptPath: s.TranscriptPath,
			ProjectDir:     s.ProjectDir,
		})
	}
	return rows
}

func rowSnapshot(row store.AgentRow) registry.Snapshot {
	return registry.Snapshot{
		ID:             row.ID,
		Provider:       agent.Kind(row.Provider),
		TerminalName:   row.TerminalName,
		TranscriptPath: row.TranscriptPath,
		ProjectDir:     row.ProjectDir,
	}
}

func eventRow(ev agent.Event) store.EventRow {
	return store.EventRow{
		AgentID:      ev.ID,
		Type:         string(ev.Type),
		ToolID:       ev.ToolID,
		ParentToolID: ev.ParentToolID,
		Status:       ev.Status,
		At:           ev.Time,
	}
}

func rowEvent(row store.EventRow) agent.Event {
	return agent.Event{
		Type:         agent.EventType(row.Type),
		ID:           row.AgentID,
		ToolID:       row.ToolID,
		ParentToolID: row.ParentToolID,
		Status:       row.Status,
		Time:         row.At,
	}
}
