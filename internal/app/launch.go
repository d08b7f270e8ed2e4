package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/provider"
	"github.com/blackwell-systems/agentpulse/internal/registry"
	"github.com/blackwell-systems/agentpulse/internal/store"
	"github.com/blackwell-systems/agentpulse/internal/terminal"
)

var launchDir string

var launchCmd = &cobra.Command{
	Use:   "launch <provider>",
	Short: "Start an agent CLI in this terminal and track it",
	Long: `Start a Claude Code or Codex session in the current terminal. Its
status is recorded for 'agentpulse history' and raises desktop
notifications while the agent owns the terminal. agentpulse exits when the
agent does.

cursor-agent cannot be started this way; its sessions are picked up by
'agentpulse watch' instead.

Examples:
  agentpulse launch claude
  agentpulse launch codex --dir ~/src/api`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&launchDir, "dir", "", "Working directory for the agent (default: current directory)")
	rootCmd.AddCommand(launchCmd)
}

// startedTerminals records the handle of every terminal it starts.
type startedTerminals struct {
	*terminal.Local
	started chan agent.Handle
}

func (t *startedTerminals) Start(ctx context.Context, spec provider.TerminalSpec) (agent.Handle, error) {
	h, err := t.Local.Start(ctx, spec)
	if err == nil {
		select {
		case t.started <- h:
		default:
		}
	}
	return h, err
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind, err := provider.ParseKind(args[0])
	if err != nil {
		return err
	}
	dirs, err := resolveDirs(nonEmpty(launchDir))
	if err != nil {
		return err
	}
	logger := slog.Default()

	var history *store.DB
	if cfg.History.Enabled {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		history = db
	}

	terms := &startedTerminals{Local: terminal.NewLocal(logger), started: make(chan agent.Handle, 1)}
	nm := &names{}
	events := make(chan agent.Event, eventBuffer)
	pers := &persister{names: nm, logger: logger}
	reg := registry.New(registry.Options{
		Providers:    provider.All(providerOptions(cfg)),
		Terminals:    terms,
		Sink:         agent.SinkFunc(func(ev agent.Event) { events <- ev }),
		Delays:       delays(cfg),
		PollInterval: cfg.Timing.PollInterval,
		ScanInterval: cfg.Timing.ScanInterval,
		OnChange:     pers.changed,
		Logger:       logger,
	})
	pers.attach(reg)

	// The agent owns the terminal, so nothing is printed while it runs.
	p := &pump{
		out:      cmd.OutOrStdout(),
		quiet:    true,
		db:       history,
		notifier: newNotifier(cfg, nm),
		names:    nm,
		logger:   logger,
	}
	pumped := make(chan struct{})
	go func() {
		p.run(events)
		close(pumped)
	}()
	defer func() {
		pers.stopped.Store(true)
		_ = reg.Close()
		_ = terms.Close()
		close(events)
		<-pumped
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	id, err := reg.Launch(ctx, kind, dirs[0])
	if err != nil {
		return err
	}

	var h agent.Handle
	select {
	case h = <-terms.started:
	default:
	}
	if h == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "agent #%d is waiting for a %s session in %s (ctrl-c to stop)\n", id, kind, dirs[0])
		<-sigCh
		return nil
	}

	select {
	case <-h.Done():
		if proc, ok := h.(*terminal.Process); ok {
			if err := proc.Err(); err != nil {
				logger.Debug("agent exited", "id", id, "err", err)
			}
		}
	case <-sigCh:
	}
	return nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
