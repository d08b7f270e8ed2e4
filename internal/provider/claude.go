package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/claude"
)

// Claude tracks Claude Code sessions. The session id is chosen at launch,
// so the transcript path is known before the file exists.
type Claude struct {
	opts Options
}

func (p *Claude) Kind() agent.Kind { return agent.Claude }

func (p *Claude) LocateProject(workDir string) string {
	return claude.ProjectDir(p.opts.ClaudeHome, workDir)
}

func (p *Claude) Launch(ctx context.Context, id int, workDir string, terms Terminals) (Launch, error) {
	if terms == nil {
		return Launch{}, ErrNoTerminals
	}
	sessionID := uuid.NewString()
	name := fmt.Sprintf("Claude Code #%d", id)
	h, err := terms.Start(ctx, TerminalSpec{
		Name:    name,
		Dir:     workDir,
		Command: "claude",
		Args:    []string{"--session-id", sessionID},
	})
	if err != nil {
		return Launch{}, fmt.Errorf("starting claude: %w", err)
	}
	projectDir := p.LocateProject(workDir)
	return Launch{
		Handle:         h,
		TerminalName:   name,
		ProjectDir:     projectDir,
		TranscriptPath: claude.TranscriptPath(projectDir, sessionID),
	}, nil
}

// Claim accepts every transcript: the project directory is already specific
// to one working directory.
func (p *Claude) Claim(path, workDir string) Claim { return ClaimAccept }

func (p *Claude) PermissionExempt() map[string]bool { return map[string]bool{} }

func (p *Claude) ProcessLine(m *agent.Machine, line string) {
	entry, ok := claude.ParseEntry([]byte(line))
	if !ok {
		return
	}
	switch entry.Type {
	case claude.TypeAssistant:
		p.assistant(m, entry)
	case claude.TypeUser:
		p.user(m, entry)
	case claude.TypeSystem:
		if entry.Subtype == claude.SubtypeTurnDuration {
			m.TurnEnd()
		}
	case claude.TypeProgress:
		p.progress(m, entry)
	}
}

func (p *Claude) assistant(m *agent.Machine, entry claude.TranscriptEntry) {
	msg, ok := claude.DecodeMessage(entry.Message)
	if !ok {
		return
	}
	hasTool, hasText := false, false
	for _, b := range msg.Blocks() {
		switch b.Type {
		case claude.BlockToolUse:
			hasTool = true
			m.ToolStart(b.ID, b.Name, p.toolStatus(b.Name, claude.DecodeToolInput(b.Input)))
		case claude.BlockText:
			if strings.TrimSpace(b.Text) != "" {
				hasText = true
			}
		}
	}
	if hasText && !hasTool {
		m.Text()
	}
}

func (p *Claude) user(m *agent.Machine, entry claude.TranscriptEntry) {
	msg, ok := claude.DecodeMessage(entry.Message)
	if !ok {
		return
	}
	if text, ok := msg.PlainText(); ok {
		if strings.TrimSpace(text) != "" {
			m.TurnStart()
		}
		return
	}

	blocks := msg.Blocks()
	results := 0
	for _, b := range blocks {
		if b.Type == claude.BlockToolResult {
			results++
			m.ToolEnd(b.ToolUseID)
		}
	}
	if results == 0 && len(blocks) > 0 {
		m.TurnStart()
	}
}

func (p *Claude) progress(m *agent.Machine, entry claude.TranscriptEntry) {
	var data claude.ProgressData
	if !decode(entry.Data, &data) {
		return
	}

	switch data.Type {
	case claude.ProgressBash, claude.ProgressMCP:
		m.Progress()
	case claude.ProgressAgent:
		parent := entry.ParentToolUseID
		if parent == "" || data.Message == nil {
			return
		}
		m.Progress()
		inner, ok := claude.DecodeMessage(data.Message.Message)
		if !ok {
			return
		}
		for _, b := range inner.Blocks() {
			switch {
			case data.Message.Type == claude.TypeAssistant && b.Type == claude.BlockToolUse:
				m.SubagentToolStart(parent, b.ID, b.Name, p.toolStatus(b.Name, claude.DecodeToolInput(b.Input)))
			case data.Message.Type == claude.TypeUser && b.Type == claude.BlockToolResult:
				m.SubagentToolEnd(parent, b.ToolUseID)
			}
		}
	}
}

// toolStatus renders the status line shown while a tool runs.
func (p *Claude) toolStatus(name string, in claude.ToolInput) string {
	switch name {
	case "Read":
		return "Reading " + agent.Base(in.FilePath)
	case "Edit", "MultiEdit":
		return "Editing " + agent.Base(in.FilePath)
	case "Write":
		return "Writing " + agent.Base(in.FilePath)
	case "Bash":
		return shellStatus(in.Command, p.opts.CommandMax)
	case "Glob":
		return "Searching files"
	case "Grep":
		return "Searching code"
	case "WebFetch":
		return "Fetching web content"
	case "WebSearch":
		return "Searching the web"
	case "Task", "Agent":
		return "Subtask: " + agent.Truncate(in.Description, p.opts.DescriptionMax)
	case "AskUserQuestion":
		return "Waiting for your answer"
	case "EnterPlanMode":
		return "Planning"
	case "NotebookEdit":
		return "Editing notebook"
	}
	return "Using " + name
}
