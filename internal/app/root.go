// Package app contains the Cobra command tree for agentpulse.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/output"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "agentpulse",
	Short: "Live status for AI coding-agent sessions",
	Long: `agentpulse follows the transcripts that Claude Code, Codex and
cursor-agent write while they work, and turns them into a live stream of
per-agent status: which tool is running, when a turn ends, and when an
agent appears to be waiting on a permission prompt.

Run 'agentpulse watch' in a project directory to start following agents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "agentpulse", appVersion)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Use a subcommand:")
		fmt.Fprintln(out, "  watch     Follow agent transcripts and print live status")
		fmt.Fprintln(out, "  launch    Start an agent CLI in this terminal and track it")
		fmt.Fprintln(out, "  agents    List tracked agents")
		fmt.Fprintln(out, "  history   Show recorded status events")
		fmt.Fprintln(out, "  replay    Run a transcript file through a provider")
		return nil
	},
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.config/agentpulse/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")
}

// setupLogging installs the default slog logger. Diagnostics go to w;
// --verbose lowers the level to debug.
func setupLogging(w io.Writer) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the configuration and applies its output preferences.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	output.SetNoColor(flagNoColor || !cfg.Output.Color || !output.IsTerminal(os.Stdout))
	return cfg, nil
}
