// Package store provides SQLite persistence for agent snapshots and the
// status event history.
package store

import (
	"errors"
	"time"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AgentRow is the persisted form of a tracked agent. It holds only what is
// needed to resume tailing after a restart.
type AgentRow struct {
	ID             int       `json:"id"`
	Provider       string    `json:"provider"`
	TerminalName   string    `json:"terminal_name"`
	TranscriptPath string    `json:"transcript_path"`
	ProjectDir     string    `json:"project_dir"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EventRow is one persisted status event.
type EventRow struct {
	ID           int64     `json:"id"`
	AgentID      int       `json:"agent_id"`
	Type         string    `json:"type"`
	ToolID       string    `json:"tool_id,omitempty"`
	ParentToolID string    `json:"parent_tool_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	At           time.Time `json:"at"`
}

// EventFilter narrows RecentEvents. Zero fields do not filter.
type EventFilter struct {
	AgentID int
	Type    string
	Since   time.Time
	Limit   int
}
