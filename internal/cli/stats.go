package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/outpost/internal/clock"
	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/store"
)

// StatsResult is the stats command output.
type StatsResult struct {
	Node  string       `json:"node"`
	Clock clock.Vector `json:"clock"`
	store.Stats
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by sync status",
		Long: `Show the node's clock and how many events are in each sync status.

Example:
  outpost stats --db ./outpost.db --node field-7
  outpost stats --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	_, logger, st, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read stats", err)
	}

	result := StatsResult{Node: st.NodeID(), Clock: st.Clock(), Stats: stats}
	return opts.formatter(cmd).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Node %s  clock %s\n", result.Node, result.Clock)
		for _, status := range ir.AllStatuses {
			fmt.Fprintf(w, "  %-12s %d\n", status, stats.ByStatus[status])
		}
		fmt.Fprintf(w, "  %-12s %d\n", "total", stats.Total)
		if stats.Quarantined > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", "quarantined", stats.Quarantined)
		}
		fmt.Fprintf(w, "Conflict reports: %d\n", stats.Conflicts)
	})
}
