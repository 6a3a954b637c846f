package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/outpost/internal/ir"
)

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	ReviewOnly bool
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflict reports",
		Long: `List the append-only conflict log in the order reports were written.

Reports awaiting manual review carry both versions; with --format json the
full review payload is included.

Example:
  outpost conflicts --review`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.ReviewOnly, "review", false, "only show reports requiring manual review")

	return cmd
}

func runConflicts(opts *ConflictsOptions, cmd *cobra.Command) error {
	_, logger, st, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	reports, err := st.ConflictLog(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read conflict log", err)
	}
	if opts.ReviewOnly {
		filtered := reports[:0]
		for _, r := range reports {
			if r.RequiresManualReview {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	if reports == nil {
		reports = []ir.ConflictReport{}
	}

	return opts.formatter(cmd).Render(reports, func(w io.Writer) {
		if len(reports) == 0 {
			fmt.Fprintln(w, "No conflict reports.")
			return
		}
		for _, r := range reports {
			resolution := "manual review"
			if !r.RequiresManualReview {
				resolution = "merged into " + r.ResolvedEventID
			}
			fmt.Fprintf(w, "%s  %s  %s\n", r.ID, r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), r.LocalEventID)
			fmt.Fprintf(w, "  %s conflict on [%s], %s (confidence %.2f): %s\n",
				r.Classification, strings.Join(r.Fields, ", "), r.Strategy, r.Confidence, resolution)
		}
	})
}
