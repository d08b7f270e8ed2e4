package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/claude"
)

// Cursor tracks cursor-agent sessions. The CLI runs outside our terminals,
// so agents are only ever found by scanning the project's transcript folder.
type Cursor struct {
	opts Options
}

type cursorEvent struct {
	Type     string                     `json:"type"`
	Subtype  string                     `json:"subtype"`
	CallID   string                     `json:"call_id"`
	ToolCall map[string]json.RawMessage `json:"tool_call"`
	Message  json.RawMessage            `json:"message"`
}

type cursorArgs struct {
	Args struct {
		Command string `json:"command"`
		Path    string `json:"path"`
		Pattern string `json:"pattern"`
		Query   string `json:"query"`
	} `json:"args"`
	// generic "function" calls
	Name string `json:"name"`
}

func (p *Cursor) Kind() agent.Kind { return agent.Cursor }

func (p *Cursor) LocateProject(workDir string) string {
	slug := strings.TrimLeft(claude.ProjectDirName(workDir), "-")
	return filepath.Join(p.opts.CursorHome, "projects", slug, "agent-transcripts")
}

// Launch only reports where transcripts will appear; there is no terminal.
func (p *Cursor) Launch(ctx context.Context, id int, workDir string, terms Terminals) (Launch, error) {
	return Launch{
		TerminalName: fmt.Sprintf("Cursor #%d", id),
		ProjectDir:   p.LocateProject(workDir),
	}, nil
}

func (p *Cursor) Claim(path, workDir string) Claim { return ClaimAccept }

func (p *Cursor) PermissionExempt() map[string]bool { return map[string]bool{} }

func (p *Cursor) ProcessLine(m *agent.Machine, line string) {
	var ev cursorEvent
	if !decode([]byte(line), &ev) || ev.Type == "" {
		return
	}
	switch ev.Type {
	case "user":
		m.TurnStart()
	case "assistant":
		if msg, ok := claude.DecodeMessage(ev.Message); ok && hasText(msg) {
			m.Text()
		}
	case "tool_call":
		kind, raw := toolCallKind(ev.ToolCall)
		if kind == "" {
			return
		}
		switch ev.Subtype {
		case "started":
			m.ToolStart(ev.CallID, kind, p.toolStatus(kind, raw))
		case "completed":
			if ev.CallID != "" {
				m.ToolEnd(ev.CallID)
			} else {
				m.ToolEndByKind(kind)
			}
		}
	case "result":
		m.TurnEnd()
	}
}

func hasText(msg claude.Message) bool {
	if text, ok := msg.PlainText(); ok {
		return strings.TrimSpace(text) != ""
	}
	for _, b := range msg.Blocks() {
		if b.Type == claude.BlockText && strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// toolCallKind returns the single key of a tool_call object, which names the
// tool kind, and its value.
func toolCallKind(call map[string]json.RawMessage) (string, json.RawMessage) {
	if len(call) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(call))
	for k := range call {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], call[keys[0]]
}

func (p *Cursor) toolStatus(kind string, raw json.RawMessage) string {
	var a cursorArgs
	_ = json.Unmarshal(raw, &a)

	switch kind {
	case "shellToolCall":
		return shellStatus(a.Args.Command, p.opts.CommandMax)
	case "readToolCall":
		return "Reading " + agent.Base(a.Args.Path)
	case "editToolCall":
		return "Editing " + agent.Base(a.Args.Path)
	case "writeToolCall":
		return "Writing " + agent.Base(a.Args.Path)
	case "deleteToolCall":
		return "Deleting " + agent.Base(a.Args.Path)
	case "grepToolCall":
		return "Searching code"
	case "globToolCall", "lsToolCall":
		return "Searching files"
	case "webSearchToolCall":
		return "Searching the web"
	case "function":
		if a.Name != "" {
			return "Using " + a.Name
		}
	}
	return "Using " + strings.TrimSuffix(kind, "ToolCall")
}
