package agent

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// TimerKind selects one of an agent's timer families.
type TimerKind int

const (
	// IdleTimer fires when text streaming stops without a turn-end record.
	IdleTimer TimerKind = iota
	// PermissionTimer fires when an open tool shows no progress.
	PermissionTimer
	// ToolDoneTimer delays a tool-done event so short calls stay visible.
	// Slots of this kind are keyed by tool id.
	ToolDoneTimer
)

// Executor runs a fired timer callback on behalf of an agent. The registry
// supplies one that takes the agent's lock and drops callbacks for agents
// that have been removed.
type Executor func(agentID int, fn func())

type timerKey struct {
	agent int
	kind  TimerKind
	tool  string
}

type timerSlot struct {
	timer *time.Timer
	gen   uint64
	fn    func()
}

// Timers holds debounced one-shot timers keyed by agent, kind and tool.
// Arming a slot replaces whatever was armed there before.
type Timers struct {
	mu    sync.Mutex
	slots map[timerKey]*timerSlot
	gen   uint64
	exec  Executor
}

// NewTimers returns an empty timer table. A nil executor runs callbacks
// directly on the timer goroutine.
func NewTimers(exec Executor) *Timers {
	if exec == nil {
		exec = func(_ int, fn func()) { fn() }
	}
	return &Timers{
		slots: make(map[timerKey]*timerSlot),
		exec:  exec,
	}
}

// Arm (re)starts the slot for agentID/kind/tool so fn runs after d unless
// the slot is cancelled or re-armed first.
func (t *Timers) Arm(agentID int, kind TimerKind, tool string, d time.Duration, fn func()) {
	key := timerKey{agent: agentID, kind: kind, tool: tool}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.slots[key]; ok {
		old.timer.Stop()
	}
	t.gen++
	gen := t.gen
	slot := &timerSlot{gen: gen, fn: fn}
	slot.timer = time.AfterFunc(d, func() { t.fire(key, gen) })
	t.slots[key] = slot
}

// Cancel stops a single slot. Cancelling an unarmed slot is a no-op.
func (t *Timers) Cancel(agentID int, kind TimerKind, tool string) {
	key := timerKey{agent: agentID, kind: kind, tool: tool}

	t.mu.Lock()
	defer t.mu.Unlock()

	if slot, ok := t.slots[key]; ok {
		slot.timer.Stop()
		delete(t.slots, key)
	}
}

// CancelAgent stops every slot belonging to agentID.
func (t *Timers) CancelAgent(agentID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, slot := range t.slots {
		if key.agent == agentID {
			slot.timer.Stop()
			delete(t.slots, key)
		}
	}
}

// Flush runs every pending slot of kind for agentID whose tool key starts
// with prefix, immediately and in the order the slots were armed. The caller
// must already be serialized with the agent's other callbacks.
func (t *Timers) Flush(agentID int, kind TimerKind, prefix string) {
	t.mu.Lock()
	var due []*timerSlot
	for key, slot := range t.slots {
		if key.agent == agentID && key.kind == kind && strings.HasPrefix(key.tool, prefix) {
			slot.timer.Stop()
			delete(t.slots, key)
			due = append(due, slot)
		}
	}
	t.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].gen < due[j].gen })
	for _, slot := range due {
		slot.fn()
	}
}

// Armed reports whether the slot is currently pending.
func (t *Timers) Armed(agentID int, kind TimerKind, tool string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[timerKey{agent: agentID, kind: kind, tool: tool}]
	return ok
}

// Pending returns the number of armed slots for agentID.
func (t *Timers) Pending(agentID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key := range t.slots {
		if key.agent == agentID {
			n++
		}
	}
	return n
}

func (t *Timers) fire(key timerKey, gen uint64) {
	t.exec(key.agent, func() {
		if fn := t.claim(key, gen); fn != nil {
			fn()
		}
	})
}

// claim removes the slot if it still belongs to generation gen. A slot that
// was cancelled or re-armed after the timer fired yields nil.
func (t *Timers) claim(key timerKey, gen uint64) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[key]
	if !ok || slot.gen != gen {
		return nil
	}
	delete(t.slots, key)
	return slot.fn
}
