package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/tail"
)

// entry is one tracked agent. id, kind, workDir and projectDir never
// change; path is guarded by the registry lock; everything reachable from
// state is guarded by mu.
type entry struct {
	id         int
	kind       agent.Kind
	workDir    string
	projectDir string
	path       string
	scan       scanKey

	mu      sync.Mutex
	closed  bool
	state   *agent.State
	machine *agent.Machine
	prov    provider.Provider
	cancel  context.CancelFunc
}

// addLocked registers st and starts its goroutines. It returns with e.mu
// held so nothing can be emitted for the agent before announce.
func (r *Registry) addLocked(st *agent.State, prov provider.Provider, key scanKey) *entry {
	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{
		id:         st.ID,
		kind:       st.Provider,
		workDir:    st.WorkDir,
		projectDir: st.ProjectDir,
		path:       st.TranscriptPath,
		scan:       key,
		state:      st,
		prov:       prov,
		cancel:     cancel,
	}
	e.machine = agent.NewMachine(st, r.opts.Sink, r.timers, r.opts.Delays, prov.PermissionExempt())
	e.mu.Lock()

	r.agents[e.id] = e
	if e.path != "" {
		r.known[e.path] = e.id
		delete(r.ignored, e.path)
	}

	r.group.Go(func() error {
		r.runPoller(ctx, e)
		return nil
	})
	if h := st.Handle; h != nil {
		r.group.Go(func() error {
			select {
			case <-h.Done():
				r.logger.Debug("terminal closed", "id", e.id, "terminal", h.Name())
				r.Remove(e.id)
			case <-ctx.Done():
			}
			return nil
		})
	}
	return e
}

// announce emits agentCreated and releases the lock addLocked returned
// with. It must be called without the registry lock held.
func (r *Registry) announce(e *entry) {
	r.opts.Sink.Emit(agent.Event{Type: agent.EventCreated, ID: e.id, Time: time.Now()})
	e.mu.Unlock()
}

func (r *Registry) runPoller(ctx context.Context, e *entry) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		r.pollOnce(e)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce feeds newly completed lines to the provider. A failure while
// processing is confined to this agent.
func (r *Registry) pollOnce(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("processing transcript failed", "id", e.id, "panic", v)
		}
	}()

	st := e.state
	if st.TranscriptPath == "" {
		return
	}
	res := tail.Poll(st.TranscriptPath, st.FileOffset, st.LineBuffer)
	if res.Reset {
		r.logger.Debug("transcript reset", "id", e.id, "path", st.TranscriptPath)
		e.machine.Reset()
	}
	st.FileOffset, st.LineBuffer = res.Offset, res.Pending
	for _, line := range res.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e.prov.ProcessLine(e.machine, line)
	}
}

type scanKey struct {
	kind agent.Kind
	dir  string
}

type scanEntry struct {
	refs      int
	launching int
	workDir   string
	cancel    context.CancelFunc
}

// holdLocked counts launches in flight on key's scanner. Discovery waits
// while any is, and the scanner offers the file again once it is over.
func (r *Registry) holdLocked(key scanKey, delta int) {
	if s := r.scanners[key]; s != nil {
		s.launching += delta
	}
}

// acquireLocked takes a reference on the scanner for dir, starting it on
// first use. Transcripts already in dir are never adopted by it.
func (r *Registry) acquireLocked(kind agent.Kind, dir, workDir string) scanKey {
	if dir == "" {
		return scanKey{}
	}
	key := scanKey{kind: kind, dir: dir}
	if s, ok := r.scanners[key]; ok {
		s.refs++
		if s.workDir == "" {
			s.workDir = workDir
		}
		return key
	}

	for _, p := range tail.List(dir) {
		if _, ok := r.known[p]; !ok {
			r.ignored[p] = true
		}
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.scanners[key] = &scanEntry{refs: 1, workDir: workDir, cancel: cancel}

	sc := &tail.Scanner{
		Dir:      dir,
		Interval: r.opts.ScanInterval,
		Known:    r.isKnown,
		OnNew:    func(path string) { r.discovered(key, path) },
		Logger:   r.logger,
	}
	r.group.Go(func() error {
		_ = sc.Run(ctx)
		return nil
	})
	return key
}

// release drops a reference taken by acquireLocked, stopping the scanner
// when no agent or watch still needs it.
func (r *Registry) release(key scanKey) {
	if key.dir == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scanners[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	delete(r.scanners, key)
	s.cancel()
}

func (r *Registry) isKnown(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isKnownLocked(path)
}

func (r *Registry) isKnownLocked(path string) bool {
	_, ok := r.known[path]
	return ok || r.ignored[path]
}

// discovered handles a transcript the scanner has not seen before. It goes
// to the oldest pending launch that claims it, and otherwise becomes a new
// agent.
func (r *Registry) discovered(key scanKey, path string) {
	prov, err := r.provider(key.kind)
	if err != nil {
		return
	}

	r.mu.Lock()
	s := r.scanners[key]
	if r.closed || s == nil || s.launching > 0 || r.isKnownLocked(path) {
		r.mu.Unlock()
		return
	}
	watchDir := s.workDir
	var pending []*entry
	for _, e := range r.agents {
		if e.kind == key.kind && e.projectDir == key.dir && e.path == "" && e.workDir != "" {
			pending = append(pending, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].id < pending[j].id })
	for _, e := range pending {
		switch prov.Claim(path, e.workDir) {
		case provider.ClaimUndecided:
			return
		case provider.ClaimAccept:
			if r.bind(e, path) {
				r.logger.Info("transcript found", "id", e.id, "path", path)
				r.changed()
				return
			}
		}
	}

	switch prov.Claim(path, watchDir) {
	case provider.ClaimUndecided:
		return
	case provider.ClaimReject:
		r.mu.Lock()
		r.ignored[path] = true
		r.mu.Unlock()
		r.logger.Debug("transcript belongs elsewhere", "path", path)
		return
	}
	r.adoptOrphan(key, prov, path)
}

// bind gives a pending launch its transcript.
func (r *Registry) bind(e *entry, path string) bool {
	r.mu.Lock()
	if r.closed || r.agents[e.id] != e || e.path != "" || r.isKnownLocked(path) {
		r.mu.Unlock()
		return false
	}
	e.path = path
	r.known[path] = e.id
	r.mu.Unlock()

	e.mu.Lock()
	if !e.closed {
		e.state.TranscriptPath = path
		e.state.ResetTranscript()
	}
	e.mu.Unlock()
	return true
}

// adoptOrphan tracks a transcript nobody launched. When the focused agent
// runs the same provider in the same directory, the file is the product of
// a session reset in its terminal: the new agent takes over the terminal
// and the old one is retired.
func (r *Registry) adoptOrphan(key scanKey, prov provider.Provider, path string) {
	r.mu.Lock()
	if r.closed || r.isKnownLocked(path) {
		r.mu.Unlock()
		return
	}
	id := r.nextID
	r.nextID++
	st := agent.NewState(id, key.kind)
	st.ProjectDir = key.dir
	st.TranscriptPath = path
	st.TerminalName = fmt.Sprintf("%s #%d", key.kind, id)

	retired := 0
	if f := r.agents[r.focused]; f != nil && f.kind == key.kind && f.projectDir == key.dir && f.path != "" {
		f.mu.Lock()
		st.Handle = f.state.Handle
		st.TerminalName = f.state.TerminalName
		st.WorkDir = f.state.WorkDir
		f.mu.Unlock()
		retired = f.id
	}
	e := r.addLocked(st, prov, r.acquireLocked(key.kind, key.dir, ""))
	if retired != 0 {
		r.focused = id
	}
	r.mu.Unlock()

	r.logger.Info("transcript adopted", "id", id, "provider", key.kind, "path", path, "replaces", retired)
	r.announce(e)
	if retired != 0 {
		r.Remove(retired)
	}
	r.changed()
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
