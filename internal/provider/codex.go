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
	"github.com/blackwell-systems/agentpulse/internal/tail"
)

// Codex tracks OpenAI Codex CLI sessions. Rollout files are named by the CLI
// itself, so the transcript is found by scanning today's session directory.
type Codex struct {
	opts Options
}

// Tool kinds Codex events are tracked under.
const (
	codexExec      = "exec"
	codexPatch     = "patch"
	codexMCP       = "mcp"
	codexWebSearch = "web_search"
)

// codexEvent covers both the flat protocol form and the payload of a rollout
// envelope. Only the fields status derivation needs are decoded.
type codexEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	ID      string                     `json:"id"`
	CallID  string                     `json:"call_id"`
	Command json.RawMessage            `json:"command"`
	Cwd     string                     `json:"cwd"`
	Changes map[string]json.RawMessage `json:"changes"`

	Invocation *struct {
		Server string `json:"server"`
		Tool   string `json:"tool"`
	} `json:"invocation"`

	// response_item function calls
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (e codexEvent) callID() string {
	if e.CallID != "" {
		return e.CallID
	}
	return e.ID
}

func (p *Codex) Kind() agent.Kind { return agent.Codex }

func (p *Codex) LocateProject(workDir string) string {
	now := p.opts.Now()
	return filepath.Join(p.opts.CodexHome, "sessions", now.Format("2006"), now.Format("01"), now.Format("02"))
}

func (p *Codex) Launch(ctx context.Context, id int, workDir string, terms Terminals) (Launch, error) {
	if terms == nil {
		return Launch{}, ErrNoTerminals
	}
	name := fmt.Sprintf("Codex #%d", id)
	h, err := terms.Start(ctx, TerminalSpec{Name: name, Dir: workDir, Command: "codex"})
	if err != nil {
		return Launch{}, fmt.Errorf("starting codex: %w", err)
	}
	return Launch{Handle: h, TerminalName: name, ProjectDir: p.LocateProject(workDir)}, nil
}

// Claim matches the cwd recorded in the rollout's session_meta header with
// workDir. Files without such a header are accepted.
func (p *Codex) Claim(path, workDir string) Claim {
	line, ok := tail.FirstLine(path)
	if !ok {
		return ClaimUndecided
	}
	var ev codexEvent
	if !decode([]byte(line), &ev) {
		return ClaimReject
	}
	if ev.Type != "session_meta" {
		return ClaimAccept
	}
	var meta codexEvent
	if !decode(ev.Payload, &meta) || meta.Cwd == "" || workDir == "" {
		return ClaimAccept
	}
	if claude.NormalizePath(filepath.Clean(meta.Cwd)) == claude.NormalizePath(filepath.Clean(workDir)) {
		return ClaimAccept
	}
	return ClaimReject
}

func (p *Codex) PermissionExempt() map[string]bool { return map[string]bool{} }

func (p *Codex) ProcessLine(m *agent.Machine, line string) {
	var ev codexEvent
	if !decode([]byte(line), &ev) || ev.Type == "" {
		return
	}
	switch ev.Type {
	case "event_msg", "response_item":
		var inner codexEvent
		if !decode(ev.Payload, &inner) || inner.Type == "" {
			return
		}
		ev = inner
	case "session_meta", "turn_context", "compacted":
		return
	}
	switch pascal(ev.Type) {
	case "TurnStarted", "TaskStarted", "UserMessage":
		m.TurnStart()
	case "TurnEnded", "TurnComplete", "TaskComplete", "TurnAborted":
		m.TurnEnd()

	case "ExecCommandBegin":
		m.ToolStart(ev.callID(), codexExec, shellStatus(commandText(ev.Command), p.opts.CommandMax))
	case "ExecCommandEnd":
		p.end(m, ev.callID(), codexExec)
	case "ExecCommandOutputDelta":
		m.Progress()

	case "PatchApplyBegin":
		m.ToolStart(ev.callID(), codexPatch, patchStatus(ev.Changes))
	case "PatchApplyEnd":
		p.end(m, ev.callID(), codexPatch)

	case "McpToolCallBegin":
		status := "Using MCP tool"
		if inv := ev.Invocation; inv != nil && inv.Tool != "" {
			status = "Using " + inv.Server + "." + inv.Tool
		}
		m.ToolStart(ev.callID(), codexMCP, status)
	case "McpToolCallEnd":
		p.end(m, ev.callID(), codexMCP)

	case "WebSearchBegin":
		m.ToolStart(ev.callID(), codexWebSearch, "Searching the web")
	case "WebSearchEnd":
		p.end(m, ev.callID(), codexWebSearch)

	case "ExecApprovalRequest", "ApplyPatchApprovalRequest":
		m.PermissionRequest()

	case "AgentMessage", "AgentMessageDelta":
		m.Text()

	case "FunctionCall", "CustomToolCall", "LocalShellCall":
		name := ev.Name
		if name == "" {
			name = codexExec
		}
		m.ToolStart(ev.callID(), name, p.functionStatus(name, ev.Arguments))
	case "FunctionCallOutput", "CustomToolCallOutput":
		m.ToolEnd(ev.callID())
	}
}

// end completes a tool by id, or by kind when the record carries no id.
func (p *Codex) end(m *agent.Machine, id, kind string) {
	if id != "" {
		m.ToolEnd(id)
		return
	}
	m.ToolEndByKind(kind)
}

func (p *Codex) functionStatus(name, arguments string) string {
	switch name {
	case "shell", "shell_command", "exec_command", "local_shell", codexExec:
		var args struct {
			Command json.RawMessage `json:"command"`
			Cmd     json.RawMessage `json:"cmd"`
		}
		_ = json.Unmarshal([]byte(arguments), &args)
		cmd := commandText(args.Command)
		if cmd == "" {
			cmd = commandText(args.Cmd)
		}
		return shellStatus(cmd, p.opts.CommandMax)
	case "apply_patch":
		return "Applying patch"
	case "update_plan":
		return "Planning"
	case "view_image":
		return "Viewing image"
	}
	return "Using " + name
}

// commandText renders a command given either as a string or as an argv
// array. A shell wrapper such as ["bash", "-lc", "x"] shows only x.
func commandText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var argv []string
	if json.Unmarshal(raw, &argv) != nil {
		return ""
	}
	if len(argv) >= 3 && (argv[1] == "-lc" || argv[1] == "-c") {
		switch agent.Base(argv[0]) {
		case "bash", "sh", "zsh":
			return strings.Join(argv[2:], " ")
		}
	}
	return strings.Join(argv, " ")
}

func patchStatus(changes map[string]json.RawMessage) string {
	if len(changes) == 0 {
		return "Applying patch"
	}
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) == 1 {
		return "Editing " + agent.Base(paths[0])
	}
	return fmt.Sprintf("Editing %s and %d more", agent.Base(paths[0]), len(paths)-1)
}

// pascal maps the snake_case names rollout files use to the protocol's
// PascalCase names. PascalCase input is returned unchanged.
func pascal(s string) string {
	if !strings.Contains(s, "_") {
		if s != "" && s[0] >= 'a' && s[0] <= 'z' {
			return strings.ToUpper(s[:1]) + s[1:]
		}
		return s
	}
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
