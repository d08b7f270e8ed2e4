package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/provider"
)

var replaySettle time.Duration

var replayCmd = &cobra.Command{
	Use:   "replay <provider> <transcript>",
	Short: "Run a transcript file through a provider",
	Long: `Feed every line of a saved transcript through a provider's parser
and print the status events it produces, followed by the agent's final
state. Useful for checking how a transcript will be interpreted.

Timers (tool-done, idle, permission) only fire if --settle gives them time
to after the last line; replay stops early once none are pending.

Examples:
  agentpulse replay claude ~/.claude/projects/-src-api/3f9c.jsonl
  agentpulse replay codex rollout.jsonl --settle 8s --json`,
	Args: cobra.ExactArgs(2),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().DurationVar(&replaySettle, "settle", 0, "Wait this long after the last line so pending timers can fire")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind, err := provider.ParseKind(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return replay(cmd.OutOrStdout(), cfg, kind, f, replaySettle, flagJSON)
}

// replay drives a standalone Machine with the lines of r. Timer callbacks
// and line processing share one lock, the same serialization the registry
// gives a live agent.
func replay(out io.Writer, cfg *config.Config, kind agent.Kind, r io.Reader, settle time.Duration, asJSON bool) error {
	prov, err := provider.New(kind, providerOptions(cfg))
	if err != nil {
		return err
	}

	var enc *json.Encoder
	if asJSON {
		enc = json.NewEncoder(out)
	}
	name := fmt.Sprintf("%s replay", kind)
	sink := agent.SinkFunc(func(ev agent.Event) {
		if enc != nil {
			_ = enc.Encode(ev)
			return
		}
		fmt.Fprintln(out, output.EventLine(ev, name))
	})

	var mu sync.Mutex
	timers := agent.NewTimers(func(_ int, fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	})
	st := agent.NewState(1, kind)
	m := agent.NewMachine(st, sink, timers, delays(cfg), prov.PermissionExempt())

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lines := 0
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		mu.Lock()
		prov.ProcessLine(m, line)
		mu.Unlock()
		lines++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	deadline := time.Now().Add(settle)
	for time.Now().Before(deadline) && timers.Pending(st.ID) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	timers.CancelAgent(st.ID)

	if enc != nil {
		return nil
	}
	status := agent.StatusActive
	if st.IsWaiting {
		status = agent.StatusWaiting
	}
	fmt.Fprintf(out, "\n%d lines  %s  %d tool(s) in flight\n", lines, output.StatusBadge(status, st.PermissionSent), st.Tools.Len())
	for _, id := range st.Tools.IDs() {
		fmt.Fprintf(out, "  %s  %s\n", st.Tools.StatusText(id), output.StyleMuted.Render("["+id+"]"))
	}
	return nil
}
