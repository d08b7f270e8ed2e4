// Package registry owns the table of tracked agents. It launches and
// restores agents, runs one poller per transcript and one scanner per
// project directory, and serializes every mutation of an agent's state
// behind that agent's lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/tail"
)

var (
	// ErrUnknownProvider is returned for a kind with no configured provider.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownAgent is returned for an id that is not tracked.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrDuplicateAgent is returned when restoring an id that is tracked.
	ErrDuplicateAgent = errors.New("agent already tracked")
	// ErrClosed is returned by operations on a closed Registry.
	ErrClosed = errors.New("registry closed")
)

// Snapshot is the persisted form of an agent, the input to Restore.
type Snapshot struct {
	ID             int        `json:"id"`
	Provider       agent.Kind `json:"provider"`
	TerminalName   string     `json:"terminalName"`
	TranscriptPath string     `json:"transcriptPath"`
	ProjectDir     string     `json:"projectDir"`
}

// Options configures a Registry.
type Options struct {
	Providers map[agent.Kind]provider.Provider
	// Terminals starts provider CLIs. It may be nil when only scanning.
	Terminals provider.Terminals
	Sink      agent.Sink
	Delays    agent.Delays

	PollInterval time.Duration
	ScanInterval time.Duration

	// OnChange is called, outside any lock, whenever the set of snapshots
	// changes.
	OnChange func()

	Logger *slog.Logger
}

// Registry is the authoritative table of tracked agents. All methods are
// safe for concurrent use.
type Registry struct {
	opts   Options
	logger *slog.Logger
	timers *agent.Timers

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	closed   bool
	nextID   int
	agents   map[int]*entry
	known    map[string]int
	ignored  map[string]bool
	focused  int
	scanners map[scanKey]*scanEntry
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	if opts.Sink == nil {
		opts.Sink = agent.Discard
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		nextID:   1,
		agents:   make(map[int]*entry),
		known:    make(map[string]int),
		ignored:  make(map[string]bool),
		scanners: make(map[scanKey]*scanEntry),
	}
	r.timers = agent.NewTimers(r.execute)
	return r
}

// execute runs a timer callback under the agent's lock, dropping it if the
// agent has been removed.
func (r *Registry) execute(id int, fn func()) {
	r.mu.Lock()
	e := r.agents[id]
	r.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	fn()
}

func (r *Registry) provider(kind agent.Kind) (provider.Provider, error) {
	p, ok := r.opts.Providers[kind]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	return p, nil
}

func (r *Registry) changed() {
	if r.opts.OnChange != nil {
		r.opts.OnChange()
	}
}

// Launch starts a new session of kind in workDir and tracks it. The
// transcript is tailed as soon as it exists; providers that cannot predict
// its name have it bound later by the directory scanner.
func (r *Registry) Launch(ctx context.Context, kind agent.Kind, workDir string) (int, error) {
	prov, err := r.provider(kind)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	id := r.nextID
	r.nextID++
	// The scanner starts before the CLI so the new file is not seeded
	// as pre-existing. It holds off until the launch is registered so the
	// file is not mistaken for an orphan either.
	key := r.acquireLocked(kind, prov.LocateProject(workDir), workDir)
	r.holdLocked(key, 1)
	r.mu.Unlock()

	l, err := prov.Launch(ctx, id, workDir, r.opts.Terminals)
	if err != nil {
		r.mu.Lock()
		r.holdLocked(key, -1)
		r.mu.Unlock()
		r.release(key)
		return 0, fmt.Errorf("launching %s agent: %w", kind, err)
	}

	st := agent.NewState(id, kind)
	st.Handle = l.Handle
	st.TerminalName = l.TerminalName
	st.WorkDir = workDir
	st.ProjectDir = l.ProjectDir
	st.TranscriptPath = l.TranscriptPath

	r.mu.Lock()
	r.holdLocked(key, -1)
	if r.closed {
		r.mu.Unlock()
		r.release(key)
		return 0, ErrClosed
	}
	e := r.addLocked(st, prov, key)
	r.focused = id
	r.mu.Unlock()

	r.logger.Info("agent launched", "id", id, "provider", kind, "dir", workDir, "transcript", l.TranscriptPath)
	r.announce(e)
	r.changed()
	return id, nil
}

// Restore resumes tracking a persisted agent. Transient state starts empty
// and the transcript is read from its current end, so history is not
// replayed. An agent persisted before its transcript was found keeps its
// terminal but is not bound again: nothing left to match a file against.
func (r *Registry) Restore(snap Snapshot) error {
	prov, err := r.provider(snap.Provider)
	if err != nil {
		return err
	}

	st := agent.NewState(snap.ID, snap.Provider)
	st.TerminalName = snap.TerminalName
	st.ProjectDir = snap.ProjectDir
	st.TranscriptPath = snap.TranscriptPath
	if snap.TranscriptPath != "" {
		st.FileOffset = tail.Size(snap.TranscriptPath)
	}
	if a, ok := r.opts.Terminals.(provider.Attacher); ok && snap.TerminalName != "" {
		if h, ok := a.Attach(snap.TerminalName); ok {
			st.Handle = h
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.agents[snap.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateAgent, snap.ID)
	}
	if snap.ID >= r.nextID {
		r.nextID = snap.ID + 1
	}
	key := scanKey{}
	if snap.ProjectDir != "" && snap.TranscriptPath != "" {
		key = r.acquireLocked(snap.Provider, snap.ProjectDir, "")
	}
	e := r.addLocked(st, prov, key)
	r.mu.Unlock()

	r.logger.Debug("agent restored", "id", snap.ID, "provider", snap.Provider, "offset", st.FileOffset)
	r.announce(e)
	return nil
}

// Adopt tracks an existing transcript from its current end.
func (r *Registry) Adopt(kind agent.Kind, path string) (int, error) {
	prov, err := r.provider(kind)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if id, ok := r.known[path]; ok {
		r.mu.Unlock()
		return id, nil
	}
	id := r.nextID
	r.nextID++
	st := agent.NewState(id, kind)
	st.TerminalName = fmt.Sprintf("%s #%d", kind, id)
	st.ProjectDir = dirOf(path)
	st.TranscriptPath = path
	st.FileOffset = tail.Size(path)
	e := r.addLocked(st, prov, scanKey{})
	r.mu.Unlock()

	r.announce(e)
	r.changed()
	return id, nil
}

// Remove stops tracking id: its timers and poller are cancelled and
// agentClosed is emitted. Removing an unknown id is a no-op.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, id)
	if e.path != "" {
		delete(r.known, e.path)
		// The file outlives the agent; it must not be adopted again.
		r.ignored[e.path] = true
	}
	if r.focused == id {
		r.focused = 0
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.closed = true
	r.timers.CancelAgent(id)
	e.cancel()
	r.opts.Sink.Emit(agent.Event{Type: agent.EventClosed, ID: id, Time: time.Now()})
	e.mu.Unlock()

	r.release(e.scan)
	r.logger.Info("agent removed", "id", id)
	r.changed()
	return true
}

// Focus marks id as the agent the user last interacted with. A transcript
// that appears in its project directory is attributed to its terminal.
func (r *Registry) Focus(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	r.focused = id
	return nil
}

// Focused returns the focused agent id, or 0.
func (r *Registry) Focused() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// Watch adopts every transcript of kind that appears for workDir from now
// on, without launching anything. The returned func stops watching.
func (r *Registry) Watch(kind agent.Kind, workDir string) (stop func(), err error) {
	prov, err := r.provider(kind)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	key := r.acquireLocked(kind, prov.LocateProject(workDir), workDir)
	r.mu.Unlock()

	r.logger.Debug("watching", "provider", kind, "dir", key.dir)
	var once sync.Once
	return func() { once.Do(func() { r.release(key) }) }, nil
}

// Snapshots returns the persistable form of every agent, ordered by id.
func (r *Registry) Snapshots() []Snapshot {
	entries := r.sorted()
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.state
		out = append(out, Snapshot{
			ID:             st.ID,
			Provider:       st.Provider,
			TerminalName:   st.TerminalName,
			TranscriptPath: st.TranscriptPath,
			ProjectDir:     st.ProjectDir,
		})
		e.mu.Unlock()
	}
	return out
}

// Tool is a read-only view of an in-flight tool.
type Tool struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// View is a read-only view of an agent's current state.
type View struct {
	Snapshot
	Waiting           bool   `json:"waiting"`
	PermissionPending bool   `json:"permissionPending"`
	Focused           bool   `json:"focused"`
	Tools             []Tool `json:"tools,omitempty"`
}

// Agents returns the current state of every agent, ordered by id.
func (r *Registry) Agents() []View {
	focused := r.Focused()
	entries := r.sorted()
	out := make([]View, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.state
		v := View{
			Snapshot: Snapshot{
				ID:             st.ID,
				Provider:       st.Provider,
				TerminalName:   st.TerminalName,
				TranscriptPath: st.TranscriptPath,
				ProjectDir:     st.ProjectDir,
			},
			Waiting:           st.IsWaiting,
			PermissionPending: st.PermissionSent,
			Focused:           st.ID == focused,
		}
		for _, id := range st.Tools.IDs() {
			v.Tools = append(v.Tools, Tool{ID: id, Kind: st.Tools.Name(id), Status: st.Tools.StatusText(id)})
		}
		e.mu.Unlock()
		out = append(out, v)
	}
	return out
}

func (r *Registry) sorted() []*entry {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries
}

// Close removes every agent, stops all scanners and waits for background
// goroutines to exit. agentClosed is emitted for each agent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]int, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		r.Remove(id)
	}
	r.cancel()
	return r.group.Wait()
}
