package output

import (
	"fmt"
	"time"

	"github.com/blackwell-systems/agentpulse/internal/agent"
)

// EventLine renders one status event as a single log line. name is the
// agent's terminal name, or empty when unknown.
func EventLine(ev agent.Event, name string) string {
	label := fmt.Sprintf("#%d", ev.ID)
	if name != "" {
		label += " " + name
	}
	return fmt.Sprintf("%s  %s  %s",
		StyleMuted.Render(clock(ev.Time)),
		StyleBold.Render(label),
		describe(ev),
	)
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}

func describe(ev agent.Event) string {
	switch ev.Type {
	case agent.EventCreated:
		return StyleHeader.Render("started tracking")
	case agent.EventClosed:
		return StyleMuted.Render("closed")
	case agent.EventStatus:
		return StatusBadge(agent.Status(ev.Status), false)
	case agent.EventToolStart:
		return "▶ " + ev.Status + StyleMuted.Render(" ["+ev.ToolID+"]")
	case agent.EventToolDone:
		return StyleMuted.Render("✓ done [" + ev.ToolID + "]")
	case agent.EventToolsClear:
		return StyleMuted.Render("tools cleared")
	case agent.EventToolPermission:
		return StyleAttention.Render("needs permission")
	case agent.EventToolPermissionClear:
		return StyleMuted.Render("permission resolved")
	case agent.EventSubagentToolStart:
		return "  ↳ " + ev.Status + StyleMuted.Render(" ["+ev.ParentToolID+"/"+ev.ToolID+"]")
	case agent.EventSubagentToolDone:
		return StyleMuted.Render("  ↳ done [" + ev.ParentToolID + "/" + ev.ToolID + "]")
	case agent.EventSubagentClear:
		return StyleMuted.Render("  ↳ subtask finished [" + ev.ParentToolID + "]")
	case agent.EventSubagentToolPermission:
		return StyleAttention.Render("  ↳ subtask needs permission [" + ev.ParentToolID + "]")
	}
	return string(ev.Type)
}

// StatusBadge renders an agent's coarse state.
func StatusBadge(status agent.Status, permission bool) string {
	switch {
	case permission:
		return StyleAttention.Render("● permission")
	case status == agent.StatusWaiting:
		return StyleWaiting.Render("○ waiting")
	case status == agent.StatusActive:
		return StyleActive.Render("● active")
	}
	return StyleMuted.Render("· " + string(status))
}
