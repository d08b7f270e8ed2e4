package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/store"
)

var agentsForget int

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List tracked agents",
	Long: `List the agents saved by 'agentpulse watch', with the last status
recorded for each. A running watcher resumes these agents on restart.

Examples:
  agentpulse agents
  agentpulse agents --json
  agentpulse agents --forget 3     # stop resuming agent #3`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().IntVar(&agentsForget, "forget", 0, "Remove the saved agent with this id")
	rootCmd.AddCommand(agentsCmd)
}

// agentRow is one line of the agents listing.
type agentRow struct {
	store.AgentRow
	Status     string `json:"status,omitempty"`
	Permission bool   `json:"permission"`
}

func runAgents(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	out := cmd.OutOrStdout()

	if agentsForget > 0 {
		if err := db.DeleteAgent(agentsForget); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no saved agent #%d", agentsForget)
			}
			return err
		}
		fmt.Fprintf(out, "Forgot agent #%d\n", agentsForget)
		return nil
	}

	rows, err := listAgents(db)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No tracked agents. Run 'agentpulse watch' in a project directory.")
		return nil
	}

	tbl := output.NewTable("ID", "Provider", "Terminal", "Status", "Transcript", "Updated")
	for _, r := range rows {
		tbl.AddRow(
			strconv.Itoa(r.ID),
			r.Provider,
			r.TerminalName,
			output.StatusBadge(agent.Status(r.Status), r.Permission),
			transcriptLabel(r.TranscriptPath),
			r.UpdatedAt.Local().Format("Jan 02 15:04"),
		)
	}
	return tbl.Fprint(out)
}

// listAgents joins saved agents with the latest status recorded for each.
func listAgents(db *store.DB) ([]agentRow, error) {
	saved, err := db.ListAgents()
	if err != nil {
		return nil, err
	}
	rows := make([]agentRow, 0, len(saved))
	for _, a := range saved {
		r := agentRow{AgentRow: a}
		last, err := db.RecentEvents(store.EventFilter{AgentID: a.ID, Limit: 1})
		if err != nil {
			return nil, err
		}
		status, err := db.RecentEvents(store.EventFilter{AgentID: a.ID, Type: string(agent.EventStatus), Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(status) > 0 {
			r.Status = status[0].Status
		}
		if len(last) > 0 {
			r.Permission = last[0].Type == string(agent.EventToolPermission)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func transcriptLabel(path string) string {
	if path == "" {
		return "(pending)"
	}
	if _, err := os.Stat(path); err != nil {
		return filepath.Base(path) + " (missing)"
	}
	return filepath.Base(path)
}
