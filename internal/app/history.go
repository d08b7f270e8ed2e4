package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/registry"
	"github.com/blackwell-systems/agentpulse/internal/store"
)

var (
	historyAgent int
	historyType  string
	historySince time.Duration
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded status events",
	Long: `Print status events recorded by 'agentpulse watch' and
'agentpulse launch', oldest first.

Examples:
  agentpulse history                         # last 50 events
  agentpulse history --agent 3 --limit 200   # one agent
  agentpulse history --type agentToolPermission --since 24h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyAgent, "agent", 0, "Only events for this agent id")
	historyCmd.Flags().StringVar(&historyType, "type", "", "Only events of this type (e.g. agentStatus)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only events newer than this (e.g. 2h)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum events to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	out := cmd.OutOrStdout()

	f := store.EventFilter{AgentID: historyAgent, Type: historyType, Limit: historyLimit}
	if historySince > 0 {
		f.Since = time.Now().Add(-historySince)
	}
	rows, err := db.RecentEvents(f)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(out)
		for _, r := range rows {
			if err := enc.Encode(rowEvent(r)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return nil
	}

	saved, err := db.ListAgents()
	if err != nil {
		return err
	}
	nm := &names{}
	snaps := make([]registry.Snapshot, 0, len(saved))
	for _, a := range saved {
		snaps = append(snaps, rowSnapshot(a))
	}
	nm.set(snaps)

	for _, r := range rows {
		fmt.Fprintln(out, output.EventLine(rowEvent(r), nm.get(r.AgentID)))
	}
	return nil
}
