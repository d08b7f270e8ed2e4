// Package notify raises desktop notifications for agents that need the
// user's attention.
package notify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/blackwell-systems/agentpulse/internal/agent"
)

// Notification is one desktop notification.
type Notification struct {
	Title   string
	Message string
}

// Send delivers n as a desktop notification. On macOS it uses osascript,
// on Linux it tries notify-send. If neither is available, it falls back to
// printing to stderr.
func Send(n Notification) error {
	switch runtime.GOOS {
	case "darwin":
		return sendMacOS(n)
	case "linux":
		return sendLinux(n)
	default:
		return sendFallback(n)
	}
}

func sendMacOS(n Notification) error {
	script := fmt.Sprintf(
		`display notification %q with title "agentpulse" subtitle %q`,
		n.Message, n.Title,
	)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return sendFallback(n)
	}
	return nil
}

func sendLinux(n Notification) error {
	if _, err := exec.LookPath("notify-send"); err != nil {
		return sendFallback(n)
	}
	if err := exec.Command("notify-send", "agentpulse: "+n.Title, n.Message).Run(); err != nil {
		return sendFallback(n)
	}
	return nil
}

func sendFallback(n Notification) error {
	_, err := fmt.Fprintf(os.Stderr, "[agentpulse] %s: %s\n", n.Title, n.Message)
	return err
}

// Notifier turns status events into notifications. At most one
// notification per agent is sent within MinGap.
type Notifier struct {
	// Send delivers a notification; defaults to the package-level Send.
	Send func(Notification) error
	// Name returns a display name for an agent id.
	Name func(id int) string
	// OnWaiting also notifies when an agent finishes its turn.
	OnWaiting bool
	MinGap    time.Duration

	mu   sync.Mutex
	last map[int]time.Time
}

// Handle inspects ev and sends a notification when it calls for one.
func (n *Notifier) Handle(ev agent.Event) error {
	var msg string
	switch {
	case ev.Type == agent.EventToolPermission:
		msg = "is waiting for permission"
	case n.OnWaiting && ev.Type == agent.EventStatus && ev.Status == string(agent.StatusWaiting):
		msg = "finished its turn"
	default:
		return nil
	}
	if !n.allow(ev.ID, ev.Time) {
		return nil
	}

	name := fmt.Sprintf("Agent #%d", ev.ID)
	if n.Name != nil {
		if s := n.Name(ev.ID); s != "" {
			name = s
		}
	}
	send := n.Send
	if send == nil {
		send = Send
	}
	return send(Notification{Title: name, Message: name + " " + msg})
}

func (n *Notifier) allow(id int, at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		n.last = make(map[int]time.Time)
	}
	if prev, ok := n.last[id]; ok && n.MinGap > 0 && at.Sub(prev) < n.MinGap {
		return false
	}
	n.last[id] = at
	return true
}
