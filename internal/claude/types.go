// Package claude provides types and path helpers for Claude Code's local
// transcript files under ~/.claude/projects/.
package claude

import "encoding/json"

// Entry types and subtypes that carry status information.
const (
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeSystem    = "system"
	TypeProgress  = "progress"

	SubtypeTurnDuration = "turn_duration"

	ProgressAgent = "agent_progress"
	ProgressBash  = "bash_progress"
	ProgressMCP   = "mcp_progress"

	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockText       = "text"
)

// TranscriptEntry is the top-level structure of a JSONL line.
type TranscriptEntry struct {
	Type            string          `json:"type"`
	Subtype         string          `json:"subtype"`
	Timestamp       string          `json:"timestamp"`
	SessionID       string          `json:"sessionId"`
	Message         json.RawMessage `json:"message"`
	Data            json.RawMessage `json:"data"`
	ParentToolUseID string          `json:"parentToolUseID"`
	ToolUseID       string          `json:"toolUseID"`
}

// Message is an assistant or user message. Content is either a plain string
// (a typed prompt) or an array of content blocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock represents a single content block (tool_use, tool_result, text).
type ContentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
	Text      string          `json:"text"`
}

// ToolInput holds the tool_use input fields used for status text.
type ToolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Command      string `json:"command"`
	Description  string `json:"description"`
	Pattern      string `json:"pattern"`
	URL          string `json:"url"`
	Query        string `json:"query"`
}

// ProgressData is the data field of a progress entry.
type ProgressData struct {
	Type    string           `json:"type"`
	AgentID string           `json:"agentId"`
	Message *ProgressMessage `json:"message"`
}

// ProgressMessage wraps a message produced inside a sub-agent.
type ProgressMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}
