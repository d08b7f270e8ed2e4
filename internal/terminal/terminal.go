// Package terminal starts agent CLIs as local child processes and hands the
// registry an agent.Handle for each.
package terminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/provider"
)

// EnvName is set in each child's environment to the terminal name, so
// hooks and scripts running inside the agent can identify it.
const EnvName = "AGENTPULSE_TERMINAL"

// Process is a running agent CLI.
type Process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Name returns the terminal name the process was started under.
func (p *Process) Name() string { return p.name }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the process exit error. It is only meaningful after Done.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Local runs agent CLIs as children of the current process. It implements
// provider.Terminals and provider.Attacher.
type Local struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*Process
}

// NewLocal returns a Local wired to the current process's standard streams.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

// Start launches spec.Command in spec.Dir. The process is not tied to ctx:
// an agent outlives the call that launched it and is stopped by its user.
func (l *Local) Start(_ context.Context, spec provider.TerminalSpec) (agent.Handle, error) {
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", spec.Command, err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), EnvName+"="+spec.Name)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = l.Stdin, l.Stdout, l.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	p := &Process{name: spec.Name, cmd: cmd, done: make(chan struct{})}
	l.mu.Lock()
	if l.procs == nil {
		l.procs = make(map[string]*Process)
	}
	l.procs[spec.Name] = p
	l.mu.Unlock()

	l.logger().Debug("terminal started", "name", spec.Name, "pid", cmd.Process.Pid, "dir", spec.Dir)
	go func() {
		p.err = cmd.Wait()
		l.mu.Lock()
		if l.procs[p.name] == p {
			delete(l.procs, p.name)
		}
		l.mu.Unlock()
		l.logger().Debug("terminal exited", "name", p.name, "err", p.err)
		close(p.done)
	}()
	return p, nil
}

// Attach returns the running process started under name.
func (l *Local) Attach(name string) (agent.Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[name]
	if !ok {
		return nil, false
	}
	return p, true
}

// Close kills every process still running.
func (l *Local) Close() error {
	l.mu.Lock()
	procs := make([]*Process, 0, len(l.procs))
	for _, p := range l.procs {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	var first error
	for _, p := range procs {
		if err := p.Kill(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Local) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
