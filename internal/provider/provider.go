// Package provider adapts each supported agent CLI to the common status
// model: where its transcripts live, how a session is launched, and how its
// transcript vocabulary maps onto agent.Machine transitions.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blackwell-systems/agentpulse/internal/agent"
)

// ErrUnknownKind is returned for a provider name that is not supported.
var ErrUnknownKind = errors.New("unknown provider")

// ErrNoTerminals is returned when a provider that needs a terminal is
// launched without a Terminals implementation.
var ErrNoTerminals = errors.New("no terminal launcher configured")

// TerminalSpec describes a terminal the host should open for an agent CLI.
type TerminalSpec struct {
	Name    string
	Dir     string
	Command string
	Args    []string
}

// Terminals is the host's side of the launch boundary. It starts the CLI in
// a terminal it owns and returns a handle the core can observe.
type Terminals interface {
	Start(ctx context.Context, spec TerminalSpec) (agent.Handle, error)
}

// Attacher is implemented by Terminals that can find a terminal they
// started earlier by name, so restored agents regain their handle.
type Attacher interface {
	Attach(name string) (agent.Handle, bool)
}

// Launch is what a provider reports about a freshly launched session.
type Launch struct {
	Handle       agent.Handle
	TerminalName string
	ProjectDir   string
	// TranscriptPath is empty when the file name is only known once the
	// CLI has created it; the directory scanner fills it in later.
	TranscriptPath string
}

// Claim is a provider's verdict on whether a newly found transcript belongs
// to a session started in a given working directory.
type Claim int

const (
	// ClaimUndecided means the file does not carry enough data yet.
	ClaimUndecided Claim = iota
	ClaimAccept
	ClaimReject
)

// Provider is implemented once per agent CLI.
type Provider interface {
	Kind() agent.Kind
	// Launch starts a session for workDir. id is the agent id the registry
	// allocated, used for terminal naming.
	Launch(ctx context.Context, id int, workDir string, terms Terminals) (Launch, error)
	// LocateProject returns the directory transcripts for workDir appear in.
	LocateProject(workDir string) string
	// ProcessLine applies one transcript line to m. Malformed lines and
	// unknown record kinds are ignored.
	ProcessLine(m *agent.Machine, line string)
	// Claim decides whether the transcript at path belongs to workDir.
	Claim(path, workDir string) Claim
	// PermissionExempt lists tool kinds that never arm the permission timer.
	PermissionExempt() map[string]bool
}

// Options configures the provider set.
type Options struct {
	ClaudeHome string
	CodexHome  string
	CursorHome string

	// CommandMax bounds shell commands in status text.
	CommandMax int
	// DescriptionMax bounds sub-task descriptions in status text.
	DescriptionMax int

	// Now returns the current time; Codex uses it to pick today's session
	// directory.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CommandMax <= 0 {
		o.CommandMax = 30
	}
	if o.DescriptionMax <= 0 {
		o.DescriptionMax = 40
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// New returns the provider for kind.
func New(kind agent.Kind, opts Options) (Provider, error) {
	opts = opts.withDefaults()
	switch kind {
	case agent.Claude:
		return &Claude{opts: opts}, nil
	case agent.Codex:
		return &Codex{opts: opts}, nil
	case agent.Cursor:
		return &Cursor{opts: opts}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// All returns one provider per supported kind.
func All(opts Options) map[agent.Kind]Provider {
	out := make(map[agent.Kind]Provider, len(agent.AllKinds))
	for _, k := range agent.AllKinds {
		p, _ := New(k, opts)
		out[k] = p
	}
	return out
}

// ParseKind converts a user-supplied provider name.
func ParseKind(s string) (agent.Kind, error) {
	k := agent.Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range agent.AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// shellStatus formats a shell command for display.
func shellStatus(cmd string, max int) string {
	return "Running: " + agent.Truncate(agent.FirstLine(cmd), max)
}

// decode unmarshals raw into v, reporting whether it held a JSON object.
func decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
