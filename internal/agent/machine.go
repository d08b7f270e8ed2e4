package agent

import (
	"strconv"
	"time"
)

// Delays are the durations the Machine arms its timers with.
type Delays struct {
	ToolDone   time.Duration
	Permission time.Duration
	Idle       time.Duration
}

// Machine applies the canonical turn and tool transitions to one agent's
// State and emits the matching events. Providers translate their own
// vocabulary into calls on a Machine, which keeps event shapes identical
// across providers.
//
// A Machine is not safe for concurrent use; the registry serializes all
// calls for an agent, including timer callbacks.
type Machine struct {
	State  *State
	Sink   Sink
	Timers *Timers
	Delays Delays

	// Exempt lists tool kinds that never arm the permission timer.
	Exempt map[string]bool

	generated int
}

// NewMachine wires a state machine for st.
func NewMachine(st *State, sink Sink, timers *Timers, delays Delays, exempt map[string]bool) *Machine {
	if sink == nil {
		sink = Discard
	}
	if timers == nil {
		timers = NewTimers(nil)
	}
	return &Machine{
		State:  st,
		Sink:   sink,
		Timers: timers,
		Delays: delays,
		Exempt: exempt,
	}
}

func (m *Machine) emit(ev Event) {
	ev.ID = m.State.ID
	ev.Time = time.Now()
	m.Sink.Emit(ev)
}

func (m *Machine) emitStatus(s Status) {
	m.emit(Event{Type: EventStatus, Status: string(s)})
}

// TurnStart handles a submitted prompt or a turn-started record.
func (m *Machine) TurnStart() {
	st := m.State
	m.Timers.Cancel(st.ID, IdleTimer, "")
	m.Timers.Cancel(st.ID, PermissionTimer, "")
	m.Timers.Flush(st.ID, ToolDoneTimer, "")
	if st.Tools.Len() > 0 || len(st.Subagents) > 0 {
		st.ClearTools()
		m.emit(Event{Type: EventToolsClear})
	}
	m.clearPermission()
	st.HadToolsInTurn = false
	st.IsWaiting = false
	m.emitStatus(StatusActive)
}

// TurnEnd handles an explicit end-of-turn record. The idle timer calls it
// too when a text-only turn goes quiet.
func (m *Machine) TurnEnd() {
	st := m.State
	m.Timers.Cancel(st.ID, IdleTimer, "")
	m.Timers.Cancel(st.ID, PermissionTimer, "")
	m.Timers.Flush(st.ID, ToolDoneTimer, "")
	st.ClearTools()
	m.emit(Event{Type: EventToolsClear})
	m.clearPermission()
	st.IsWaiting = true
	st.HadToolsInTurn = false
	m.emitStatus(StatusWaiting)
}

// ToolStart records a tool invocation and returns the id it was tracked
// under. An empty id gets a generated one. A repeated id is ignored.
func (m *Machine) ToolStart(id, name, status string) string {
	st := m.State
	if id == "" {
		m.generated++
		id = name + "-" + strconv.Itoa(m.generated)
	}
	if st.Tools.Has(id) {
		return id
	}
	m.moveOn()
	st.Tools.Add(id, name, status)
	st.HadToolsInTurn = true
	m.Timers.Cancel(st.ID, IdleTimer, "")
	if st.IsWaiting {
		st.IsWaiting = false
		m.emitStatus(StatusActive)
	}
	m.emit(Event{Type: EventToolStart, ToolID: id, Status: status})
	if !m.Exempt[name] {
		m.armPermission()
	}
	return id
}

// ToolEnd completes the tool with the given id. It reports false when the
// id is not in flight.
func (m *Machine) ToolEnd(id string) bool {
	st := m.State
	if !st.Tools.Remove(id) {
		return false
	}
	m.moveOn()
	if _, ok := st.Subagents[id]; ok {
		m.Timers.Flush(st.ID, ToolDoneTimer, id+"/")
		delete(st.Subagents, id)
		m.emit(Event{Type: EventSubagentClear, ParentToolID: id})
	}
	m.scheduleDone(id, Event{Type: EventToolDone, ToolID: id})

	if st.Tools.Len() == 0 {
		st.HadToolsInTurn = false
	}
	if !m.hasGuardedTools() {
		m.Timers.Cancel(st.ID, PermissionTimer, "")
	}
	return true
}

// ToolEndByKind completes the oldest in-flight tool of the given kind, for
// providers whose completion records carry no id.
func (m *Machine) ToolEndByKind(name string) bool {
	id, ok := m.State.Tools.OldestOfKind(name)
	if !ok {
		return false
	}
	return m.ToolEnd(id)
}

// Progress records streamed output for an open tool, which shows the agent
// rather than an approval prompt owns the terminal.
func (m *Machine) Progress() {
	m.moveOn()
	if m.hasGuardedTools() {
		m.armPermission()
	}
}

// Text records assistant text. When no tool has run this turn, the idle
// timer is (re)armed so a turn without an explicit end still settles.
func (m *Machine) Text() {
	st := m.State
	m.moveOn()
	if st.IsWaiting {
		st.IsWaiting = false
		m.emitStatus(StatusActive)
	}
	if st.HadToolsInTurn {
		return
	}
	m.Timers.Arm(st.ID, IdleTimer, "", m.Delays.Idle, m.TurnEnd)
}

// PermissionRequest handles an explicit approval request. The event is
// emitted once per pending action.
func (m *Machine) PermissionRequest() {
	st := m.State
	m.Timers.Cancel(st.ID, PermissionTimer, "")
	if st.PermissionSent {
		return
	}
	st.PermissionSent = true
	m.emit(Event{Type: EventToolPermission})
}

// SubagentToolStart records a tool call made inside the parent tool.
func (m *Machine) SubagentToolStart(parent, id, name, status string) {
	st := m.State
	if !st.Tools.Has(parent) {
		return
	}
	set := st.Subagent(parent)
	if id == "" {
		m.generated++
		id = name + "-" + strconv.Itoa(m.generated)
	}
	if set.Has(id) {
		return
	}
	m.moveOn()
	set.Add(id, name, status)
	m.emit(Event{Type: EventSubagentToolStart, ParentToolID: parent, ToolID: id, Status: status})
	if !m.Exempt[name] {
		m.armPermission()
	}
}

// SubagentToolEnd completes a tool call made inside the parent tool.
func (m *Machine) SubagentToolEnd(parent, id string) {
	set, ok := m.State.Subagents[parent]
	if !ok || !set.Remove(id) {
		return
	}
	m.moveOn()
	m.scheduleDone(parent+"/"+id, Event{Type: EventSubagentToolDone, ParentToolID: parent, ToolID: id})
	if !m.hasGuardedTools() {
		m.Timers.Cancel(m.State.ID, PermissionTimer, "")
	}
}

// Reset drops all activity for a transcript that was truncated or replaced.
// Pending tool-done events are delivered first.
func (m *Machine) Reset() {
	st := m.State
	m.Timers.Cancel(st.ID, IdleTimer, "")
	m.Timers.Cancel(st.ID, PermissionTimer, "")
	m.Timers.Flush(st.ID, ToolDoneTimer, "")
	if st.Tools.Len() > 0 || len(st.Subagents) > 0 {
		st.ClearTools()
		m.emit(Event{Type: EventToolsClear})
	}
	m.clearPermission()
	st.HadToolsInTurn = false
}

func (m *Machine) scheduleDone(key string, ev Event) {
	if m.Delays.ToolDone <= 0 {
		m.emit(ev)
		return
	}
	m.Timers.Arm(m.State.ID, ToolDoneTimer, key, m.Delays.ToolDone, func() { m.emit(ev) })
}

// moveOn withdraws an outstanding permission prompt once a record shows the
// pending action went ahead, and restarts the stall timer for whatever is
// still open. Records the provider does not recognize never get here.
func (m *Machine) moveOn() {
	if !m.State.PermissionSent {
		return
	}
	m.clearPermission()
	m.armPermission()
}

func (m *Machine) clearPermission() {
	if !m.State.PermissionSent {
		return
	}
	m.State.PermissionSent = false
	m.emit(Event{Type: EventToolPermissionClear})
}

func (m *Machine) armPermission() {
	if m.Delays.Permission <= 0 || !m.hasGuardedTools() {
		return
	}
	m.Timers.Arm(m.State.ID, PermissionTimer, "", m.Delays.Permission, m.permissionElapsed)
}

// hasGuardedTools reports whether any open tool, nested ones included, is
// subject to the permission timer.
func (m *Machine) hasGuardedTools() bool {
	st := m.State
	for _, id := range st.Tools.IDs() {
		if !m.Exempt[st.Tools.Name(id)] {
			return true
		}
	}
	for _, set := range st.Subagents {
		for _, id := range set.IDs() {
			if !m.Exempt[set.Name(id)] {
				return true
			}
		}
	}
	return false
}

func (m *Machine) permissionElapsed() {
	st := m.State
	if st.PermissionSent || !m.hasGuardedTools() {
		return
	}
	st.PermissionSent = true
	m.emit(Event{Type: EventToolPermission})
	for _, parent := range st.Tools.IDs() {
		set, ok := st.Subagents[parent]
		if !ok {
			continue
		}
		for _, id := range set.IDs() {
			if !m.Exempt[set.Name(id)] {
				m.emit(Event{Type: EventSubagentToolPermission, ParentToolID: parent})
				break
			}
		}
	}
}
