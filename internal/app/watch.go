package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/registry"
	"github.com/blackwell-systems/agentpulse/internal/store"
	"github.com/blackwell-systems/agentpulse/internal/tail"
)

var (
	watchDaemon    bool
	watchStop      bool
	watchQuiet     bool
	watchProviders []string
	watchDirs      []string
	watchFollow    []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow agent transcripts and print live status",
	Long: `Watch the transcript directories of one or more project directories
and print a status line for every change: tools starting and finishing,
turns ending, and agents that appear to be waiting on a permission prompt.

Agents tracked by a previous run are resumed from where their transcripts
end now. Every event is recorded for 'agentpulse history'.

Examples:
  agentpulse watch                            # all providers, current directory
  agentpulse watch --provider codex           # only Codex sessions
  agentpulse watch --dir ~/src/api --dir .    # several projects
  agentpulse watch --follow claude=/path/session.jsonl
  agentpulse watch --json                     # one JSON event per line
  agentpulse watch --daemon                   # log to file, write PID file
  agentpulse watch --stop                     # stop the background daemon`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "Run in background mode (write PID file, log to file)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop a running background daemon")
	watchCmd.Flags().BoolVar(&watchQuiet, "quiet", false, "Suppress terminal output, only record and notify")
	watchCmd.Flags().StringSliceVar(&watchProviders, "provider", nil, "Providers to watch: claude, codex, cursor (default: all)")
	watchCmd.Flags().StringSliceVar(&watchDirs, "dir", nil, "Project directories to watch (default: current directory)")
	watchCmd.Flags().StringSliceVar(&watchFollow, "follow", nil, "Also follow an existing transcript, as provider=path")
	rootCmd.AddCommand(watchCmd)
}

// pidFilePath returns the path to the daemon PID file.
func pidFilePath() string {
	return filepath.Join(config.ConfigDir(), "watch.pid")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchStop {
		return stopDaemon()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provs, err := selectProviders(cfg, watchProviders)
	if err != nil {
		return err
	}
	follow, err := parseFollow(watchFollow)
	if err != nil {
		return err
	}
	dirs, err := resolveDirs(watchDirs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	go func() {
		<-sigCh
		cancel()
	}()

	w := &watchRun{cfg: cfg, providers: provs, dirs: dirs, follow: follow, quiet: watchQuiet, json: flagJSON}
	if watchDaemon {
		return runDaemon(ctx, w)
	}
	w.out = cmd.OutOrStdout()
	w.logger = slog.Default()
	return w.run(ctx)
}

// runDaemon sets up PID and log files, then runs the watcher. The actual
// backgrounding should be done by the caller (nohup, &, etc.) since Go
// cannot reliably fork.
func runDaemon(ctx context.Context, w *watchRun) error {
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	// Check for existing daemon.
	if pid, err := readPID(); err == nil {
		if processExists(pid) {
			return fmt.Errorf("daemon already running (PID %d). Use --stop to stop it", pid)
		}
		// Stale PID file, remove it.
		_ = os.Remove(pidFilePath())
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(pidFilePath()) }()

	logFile, err := os.OpenFile(config.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	output.SetNoColor(true)
	w.out = logFile
	w.logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))
	w.logger.Info("agentpulse daemon started", "pid", pid, "dirs", w.dirs)
	err = w.run(ctx)
	w.logger.Info("daemon stopped")
	return err
}

// readPID reads the daemon PID from the PID file.
func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// followSpec is an existing transcript to track from its current end.
type followSpec struct {
	kind agent.Kind
	path string
}

func parseFollow(specs []string) ([]followSpec, error) {
	var out []followSpec
	for _, s := range specs {
		name, path, ok := strings.Cut(s, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid --follow %q: want provider=path", s)
		}
		kind, err := provider.ParseKind(name)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		out = append(out, followSpec{kind: kind, path: abs})
	}
	return out, nil
}

// resolveDirs makes dirs absolute, defaulting to the working directory.
func resolveDirs(dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		return []string{wd}, nil
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

// watchRun is one foreground or daemon watch session.
type watchRun struct {
	cfg       *config.Config
	providers map[agent.Kind]provider.Provider
	dirs      []string
	follow    []followSpec
	quiet     bool
	json      bool

	out    io.Writer
	logger *slog.Logger
}

func (w *watchRun) run(ctx context.Context) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var history *store.DB
	if w.cfg.History.Enabled {
		history = db
		if w.cfg.History.Retention > 0 {
			n, err := db.PruneEvents(time.Now().Add(-w.cfg.History.Retention))
			if err != nil {
				w.logger.Warn("pruning history failed", "err", err)
			} else if n > 0 {
				w.logger.Debug("pruned history", "events", n)
			}
		}
	}

	nm := &names{}
	events := make(chan agent.Event, eventBuffer)
	pers := &persister{db: db, names: nm, logger: w.logger}
	reg := registry.New(registry.Options{
		Providers:    w.providers,
		Sink:         agent.SinkFunc(func(ev agent.Event) { events <- ev }),
		Delays:       delays(w.cfg),
		PollInterval: w.cfg.Timing.PollInterval,
		ScanInterval: w.cfg.Timing.ScanInterval,
		OnChange:     pers.changed,
		Logger:       w.logger,
	})
	pers.attach(reg)

	p := &pump{
		out:      w.out,
		json:     w.json,
		quiet:    w.quiet,
		db:       history,
		notifier: newNotifier(w.cfg, nm),
		names:    nm,
		logger:   w.logger,
	}
	pumped := make(chan struct{})
	go func() {
		p.run(events)
		close(pumped)
	}()

	shutdown := func() error {
		pers.stopped.Store(true)
		err := reg.Close()
		close(events)
		<-pumped
		return err
	}

	if err := w.restore(db, reg, pers); err != nil {
		_ = shutdown()
		return err
	}
	pers.changed()

	for _, dir := range w.dirs {
		for kind := range w.providers {
			if _, err := reg.Watch(kind, dir); err != nil {
				_ = shutdown()
				return fmt.Errorf("watching %s in %s: %w", kind, dir, err)
			}
		}
	}
	for _, f := range w.follow {
		if _, err := reg.Adopt(f.kind, f.path); err != nil {
			_ = shutdown()
			return fmt.Errorf("following %s: %w", f.path, err)
		}
	}

	if !w.quiet && !w.json {
		fmt.Fprintf(w.out, "agentpulse watching %s (ctrl-c to stop)\n", strings.Join(w.dirs, ", "))
	}

	<-ctx.Done()
	if err := shutdown(); err != nil {
		return err
	}
	if !w.quiet && !w.json {
		fmt.Fprintln(w.out, "\nStopped.")
	}
	return nil
}

// restore resumes agents saved by a previous run. Agents of providers not
// being watched are carried over untouched; agents whose transcript is gone
// are dropped.
func (w *watchRun) restore(db *store.DB, reg *registry.Registry, pers *persister) error {
	rows, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("loading saved agents: %w", err)
	}
	for _, row := range rows {
		snap := rowSnapshot(row)
		if _, ok := w.providers[snap.Provider]; !ok {
			pers.keepRow(row)
			continue
		}
		if snap.TranscriptPath != "" && !tail.Exists(snap.TranscriptPath) {
			w.logger.Info("dropping agent with missing transcript", "id", snap.ID, "path", snap.TranscriptPath)
			continue
		}
		if err := reg.Restore(snap); err != nil {
			w.logger.Warn("skipping saved agent", "id", snap.ID, "err", err)
		}
	}
	return nil
}
