// Package config provides configuration loading and defaults for agentpulse.
package config

import "time"

// DefaultClaudeHome is the default location of Claude Code's data directory.
const DefaultClaudeHome = "~/.claude"

// DefaultCodexHome is the default location of the Codex CLI's data directory.
const DefaultCodexHome = "~/.codex"

// DefaultCursorHome is the default location of cursor-agent's data directory.
const DefaultCursorHome = "~/.cursor"

// DefaultConfigDir is the default location for agentpulse configuration.
const DefaultConfigDir = "~/.config/agentpulse"

// DefaultDBName is the filename for the SQLite database.
const DefaultDBName = "agentpulse.db"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultLogName is the filename the watch daemon logs to.
const DefaultLogName = "watch.log"

// DefaultTiming holds the polling intervals and timer delays.
var DefaultTiming = Timing{
	PollInterval:    time.Second,
	ScanInterval:    time.Second,
	ToolDoneDelay:   300 * time.Millisecond,
	PermissionDelay: 7 * time.Second,
	IdleDelay:       5 * time.Second,
}

// DefaultDisplay holds the status-text truncation limits.
var DefaultDisplay = Display{
	CommandMax:     30,
	DescriptionMax: 40,
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{
	Color: true,
}

// DefaultNotify holds the default notification preferences.
var DefaultNotify = Notify{
	Enabled: true,
	MinGap:  30 * time.Second,
}

// DefaultHistory holds the default event history settings.
var DefaultHistory = History{
	Enabled:   true,
	Retention: 7 * 24 * time.Hour,
}
