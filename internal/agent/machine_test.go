package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, ev := range r.snapshot() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) count(typ EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// harness serializes test calls and timer callbacks the way the registry
// does with its per-agent lock.
type harness struct {
	mu  sync.Mutex
	rec *recorder
	m   *Machine
}

func newHarness(delays Delays, exempt map[string]bool) *harness {
	h := &harness{rec: &recorder{}}
	timers := NewTimers(func(_ int, fn func()) {
		h.mu.Lock()
		defer h.mu.Unlock()
		fn()
	})
	h.m = NewMachine(NewState(1, Codex), h.rec, timers, delays, exempt)
	return h
}

func (h *harness) do(fn func(m *Machine)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.m)
}

var slow = Delays{ToolDone: 30 * time.Millisecond, Permission: time.Hour, Idle: time.Hour}

func TestMachine_TurnWithOneTool(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		m.TurnStart()
		m.ToolStart("a1", "exec", "Running: ls -la")
		m.ToolEnd("a1")
		m.TurnEnd()
	})

	events := h.rec.snapshot()
	require.Len(t, events, 5)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "active", events[0].Status)
	assert.Equal(t, EventToolStart, events[1].Type)
	assert.Equal(t, "a1", events[1].ToolID)
	assert.Equal(t, "Running: ls -la", events[1].Status)
	assert.Equal(t, EventToolDone, events[2].Type)
	assert.Equal(t, "a1", events[2].ToolID)
	assert.Equal(t, EventToolsClear, events[3].Type)
	assert.Equal(t, EventStatus, events[4].Type)
	assert.Equal(t, "waiting", events[4].Status)

	h.do(func(m *Machine) {
		assert.Zero(t, m.State.Tools.Len())
		assert.True(t, m.State.IsWaiting)
		assert.False(t, m.State.PermissionSent)
		assert.False(t, m.State.HadToolsInTurn)
	})

	// The flushed done event must not be delivered a second time.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, h.rec.count(EventToolDone))
}

func TestMachine_ToolDoneAfterDelay(t *testing.T) {
	h := newHarness(slow, nil)
	var ended time.Time
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: make")
		m.ToolEnd("t1")
		ended = time.Now()
	})
	assert.Zero(t, h.rec.count(EventToolDone), "done must not be immediate")

	require.Eventually(t, func() bool { return h.rec.count(EventToolDone) == 1 }, time.Second, 5*time.Millisecond)
	for _, ev := range h.rec.snapshot() {
		if ev.Type == EventToolDone {
			assert.GreaterOrEqual(t, ev.Time.Sub(ended), 25*time.Millisecond)
		}
	}
	assert.Equal(t, 1, h.rec.count(EventToolStart))
}

func TestMachine_IdleTimerFiresOnce(t *testing.T) {
	h := newHarness(Delays{Idle: 20 * time.Millisecond, Permission: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.TurnStart()
		m.Text()
	})

	require.Eventually(t, func() bool { return h.rec.count(EventStatus) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	events := h.rec.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, "waiting", last.Status)
	assert.Equal(t, 2, h.rec.count(EventStatus))
	h.do(func(m *Machine) { assert.True(t, m.State.IsWaiting) })
}

func TestMachine_IdleTimerCancelledByToolStart(t *testing.T) {
	h := newHarness(Delays{Idle: 30 * time.Millisecond, Permission: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.TurnStart()
		m.Text()
		m.ToolStart("t1", "exec", "Running: make")
	})

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []EventType{EventStatus, EventToolStart}, h.rec.types())
}

func TestMachine_IdleTimerDebounced(t *testing.T) {
	h := newHarness(Delays{Idle: 100 * time.Millisecond, Permission: time.Hour}, nil)
	h.do(func(m *Machine) { m.Text() })
	time.Sleep(60 * time.Millisecond)
	h.do(func(m *Machine) { m.Text() })
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, h.rec.count(EventStatus), "re-armed idle timer fired early")
	require.Eventually(t, func() bool { return h.rec.count(EventStatus) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMachine_TextAfterToolDoesNotArmIdle(t *testing.T) {
	h := newHarness(Delays{Idle: 10 * time.Millisecond, Permission: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.TurnStart()
		m.ToolStart("t1", "exec", "Running: go test")
		m.Text()
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.rec.count(EventStatus))
}

func TestMachine_PermissionTimer(t *testing.T) {
	h := newHarness(Delays{Permission: 20 * time.Millisecond, Idle: time.Hour}, nil)
	h.do(func(m *Machine) { m.ToolStart("t1", "exec", "Running: rm -rf build") })

	require.Eventually(t, func() bool { return h.rec.count(EventToolPermission) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.rec.count(EventToolPermission))

	h.do(func(m *Machine) {
		assert.True(t, m.State.PermissionSent)
		m.Progress()
		assert.False(t, m.State.PermissionSent)
	})
	assert.Equal(t, 1, h.rec.count(EventToolPermissionClear))
}

func TestMachine_PermissionTimerRearmedByProgress(t *testing.T) {
	h := newHarness(Delays{Permission: 100 * time.Millisecond, Idle: time.Hour}, nil)
	h.do(func(m *Machine) { m.ToolStart("t1", "exec", "Running: npm install") })
	time.Sleep(60 * time.Millisecond)
	h.do(func(m *Machine) { m.Progress() })
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, h.rec.count(EventToolPermission))
	require.Eventually(t, func() bool { return h.rec.count(EventToolPermission) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMachine_PermissionCancelledWhenToolsFinish(t *testing.T) {
	h := newHarness(Delays{Permission: 30 * time.Millisecond, Idle: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: ls")
		m.ToolEnd("t1")
	})
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, h.rec.count(EventToolPermission))
}

func TestMachine_ExemptToolNeverFlagged(t *testing.T) {
	h := newHarness(Delays{Permission: 10 * time.Millisecond, Idle: time.Hour}, map[string]bool{"Task": true})
	h.do(func(m *Machine) { m.ToolStart("t1", "Task", "Subtask: explore") })
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.rec.count(EventToolPermission))
}

func TestMachine_PermissionRequestOnce(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: git push")
		m.PermissionRequest()
		m.PermissionRequest()
	})
	assert.Equal(t, 1, h.rec.count(EventToolPermission))
}

func TestMachine_PermissionRequestHeldUntilActionMovesOn(t *testing.T) {
	h := newHarness(Delays{Permission: 20 * time.Millisecond, Idle: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: git push")
		m.PermissionRequest()
	})
	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, 1, h.rec.count(EventToolPermission), "stall timer must not raise a second prompt")
	assert.Zero(t, h.rec.count(EventToolPermissionClear))

	h.do(func(m *Machine) {
		m.ToolEnd("t1")
		assert.False(t, m.State.PermissionSent)
	})
	assert.Equal(t, 1, h.rec.count(EventToolPermissionClear))
}

func TestMachine_TextWithdrawsPermission(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: deploy")
		m.PermissionRequest()
		m.Text()
		assert.False(t, m.State.PermissionSent)
		assert.True(t, m.Timers.Armed(1, PermissionTimer, ""))
	})
	assert.Equal(t, []EventType{EventToolStart, EventToolPermission, EventToolPermissionClear}, h.rec.types())
}

func TestMachine_ToolEndByKindTakesOldest(t *testing.T) {
	h := newHarness(Delays{Permission: time.Hour, Idle: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.ToolStart("w1", "web_search", "Searching the web")
		m.ToolStart("w2", "web_search", "Searching the web")
		require.True(t, m.ToolEndByKind("web_search"))
		assert.True(t, m.State.Tools.Has("w2"))
		assert.False(t, m.State.Tools.Has("w1"))
		assert.False(t, m.ToolEndByKind("exec"))
	})
	events := h.rec.snapshot()
	require.Equal(t, EventToolDone, events[len(events)-1].Type)
	assert.Equal(t, "w1", events[len(events)-1].ToolID)
}

func TestMachine_GeneratedIDs(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		a := m.ToolStart("", "web_search", "Searching the web")
		b := m.ToolStart("", "web_search", "Searching the web")
		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})
}

func TestMachine_DuplicateToolStartIgnored(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "Read", "Reading a.go")
		m.ToolStart("t1", "Read", "Reading a.go")
	})
	assert.Equal(t, 1, h.rec.count(EventToolStart))
}

func TestMachine_Subagents(t *testing.T) {
	h := newHarness(Delays{Permission: time.Hour, Idle: time.Hour}, nil)
	h.do(func(m *Machine) {
		m.ToolStart("task1", "Task", "Subtask: audit")
		m.SubagentToolStart("task1", "s1", "Read", "Reading main.go")
		m.SubagentToolStart("missing", "s2", "Read", "Reading x.go")
		m.SubagentToolEnd("task1", "s1")
		m.SubagentToolStart("task1", "s3", "Grep", "Searching code")
		m.ToolEnd("task1")
	})

	assert.Equal(t, []EventType{
		EventToolStart,
		EventSubagentToolStart,
		EventSubagentToolDone,
		EventSubagentToolStart,
		EventSubagentClear,
		EventToolDone,
	}, h.rec.types())
	h.do(func(m *Machine) { assert.Empty(t, m.State.Subagents) })
}

func TestMachine_TurnStartClearsOnlyTrackedTools(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) { m.TurnStart() })
	assert.Equal(t, []EventType{EventStatus}, h.rec.types())

	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: sleep 100")
		m.TurnStart()
		assert.Zero(t, m.State.Tools.Len())
	})
	assert.Equal(t, []EventType{EventStatus, EventToolStart, EventToolsClear, EventStatus}, h.rec.types())
}

func TestMachine_ResetClearsActivity(t *testing.T) {
	h := newHarness(slow, nil)
	h.do(func(m *Machine) {
		m.ToolStart("t1", "exec", "Running: ls")
		m.ToolStart("t2", "exec", "Running: pwd")
		m.ToolEnd("t2")
		m.Reset()
		assert.Zero(t, m.State.Tools.Len())
	})
	assert.Equal(t, []EventType{EventToolStart, EventToolStart, EventToolDone, EventToolsClear}, h.rec.types())
}
