package agent

import "time"

// EventType names a status event delivered to a Sink.
type EventType string

// Event types emitted by the state machine and the registry.
const (
	EventCreated                EventType = "agentCreated"
	EventStatus                 EventType = "agentStatus"
	EventToolStart              EventType = "agentToolStart"
	EventToolDone               EventType = "agentToolDone"
	EventToolsClear             EventType = "agentToolsClear"
	EventToolPermission         EventType = "agentToolPermission"
	EventToolPermissionClear    EventType = "agentToolPermissionClear"
	EventSubagentToolStart      EventType = "subagentToolStart"
	EventSubagentToolDone       EventType = "subagentToolDone"
	EventSubagentClear          EventType = "subagentClear"
	EventSubagentToolPermission EventType = "subagentToolPermission"
	EventClosed                 EventType = "agentClosed"
)

// Status is the coarse activity state carried by EventStatus.
type Status string

const (
	StatusActive  Status = "active"
	StatusWaiting Status = "waiting"
)

// Event is a single status change for one agent. Fields that do not apply to
// the event type are left empty.
type Event struct {
	Type         EventType `json:"type"`
	ID           int       `json:"id"`
	ToolID       string    `json:"toolId,omitempty"`
	ParentToolID string    `json:"parentToolId,omitempty"`
	Status       string    `json:"status,omitempty"`
	Time         time.Time `json:"time"`
}

// Sink receives events. Emit is called while the emitting agent's lock is
// held, so implementations must not call back into the registry for that
// agent.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})
