// Package agent holds the per-agent status model: tracked state, the events
// it produces, the debounced timers that infer idle and permission stalls,
// and the canonical state machine every provider drives.
package agent

// Kind identifies which agent CLI produced a transcript.
type Kind string

const (
	Claude Kind = "claude"
	Codex  Kind = "codex"
	Cursor Kind = "cursor"
)

// AllKinds lists every supported provider kind.
var AllKinds = []Kind{Claude, Codex, Cursor}

// Handle is an opaque reference to the external process or terminal that
// runs an agent. The core only observes it; teardown belongs to whoever
// created it.
type Handle interface {
	// Name is the display name of the terminal.
	Name() string
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// ToolSet tracks in-flight tool calls. Ids, status text and tool kinds live in
// one entry per id, so the three views can never disagree.
type ToolSet struct {
	order   []string
	entries map[string]toolEntry
}

type toolEntry struct {
	name   string
	status string
}

// Add records a tool call. Re-adding an id updates it in place.
func (s *ToolSet) Add(id, name, status string) {
	if s.entries == nil {
		s.entries = make(map[string]toolEntry)
	}
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = toolEntry{name: name, status: status}
}

// Remove drops a tool call and reports whether it was present.
func (s *ToolSet) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether id is in flight.
func (s *ToolSet) Has(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// Name returns the tool kind recorded for id.
func (s *ToolSet) Name(id string) string { return s.entries[id].name }

// StatusText returns the display status recorded for id.
func (s *ToolSet) StatusText(id string) string { return s.entries[id].status }

// IDs returns the in-flight ids, oldest first.
func (s *ToolSet) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of in-flight tools.
func (s *ToolSet) Len() int { return len(s.order) }

// OldestOfKind returns the oldest in-flight id with the given tool kind.
//
// This is an approximation for providers that report completion without an
// id: two concurrent calls of the same kind may be completed out of order.
func (s *ToolSet) OldestOfKind(name string) (string, bool) {
	for _, id := range s.order {
		if s.entries[id].name == name {
			return id, true
		}
	}
	return "", false
}

// Clear drops every tracked tool.
func (s *ToolSet) Clear() {
	s.order = nil
	s.entries = nil
}

// State is everything tracked for one agent session. It is owned by the
// registry and mutated only while the agent's lock is held.
type State struct {
	ID           int
	Provider     Kind
	Handle       Handle
	TerminalName string
	WorkDir      string

	ProjectDir     string
	TranscriptPath string
	FileOffset     int64
	LineBuffer     []byte

	Tools     ToolSet
	Subagents map[string]*ToolSet

	IsWaiting      bool
	PermissionSent bool
	HadToolsInTurn bool
}

// NewState returns a State with no tracked activity.
func NewState(id int, kind Kind) *State {
	return &State{
		ID:        id,
		Provider:  kind,
		Subagents: make(map[string]*ToolSet),
	}
}

// ClearTools drops all tool and sub-agent tracking together.
func (s *State) ClearTools() {
	s.Tools.Clear()
	s.Subagents = make(map[string]*ToolSet)
}

// ResetTranscript rewinds the read position for a new or truncated file.
func (s *State) ResetTranscript() {
	s.FileOffset = 0
	s.LineBuffer = nil
}

// Subagent returns the nested tool set for a parent tool, creating it on
// first use.
func (s *State) Subagent(parent string) *ToolSet {
	if s.Subagents == nil {
		s.Subagents = make(map[string]*ToolSet)
	}
	set, ok := s.Subagents[parent]
	if !ok {
		set = &ToolSet{}
		s.Subagents[parent] = set
	}
	return set
}
