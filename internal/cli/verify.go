package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that no unsynced event has been lost",
		Long: `Check that every pending, conflict, and failed event still decodes and
passes its integrity hash, or has been explicitly quarantined.

Exit codes:
  0 - No lost events
  1 - Corrupt or unreadable events found
  2 - Command error

Example:
  outpost verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	_, logger, st, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	report, err := st.VerifyNoLostEvents(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "verification failed", err)
	}

	err = opts.formatter(cmd).Render(report, func(w io.Writer) {
		fmt.Fprintf(w, "Checked %d event(s)\n", report.Checked)
		for _, id := range report.Quarantined {
			fmt.Fprintf(w, "  quarantined %s\n", id)
		}
		for _, id := range report.Corrupt {
			fmt.Fprintf(w, "  CORRUPT     %s\n", id)
		}
		for _, id := range report.BadStatus {
			fmt.Fprintf(w, "  BAD STATUS  %s\n", id)
		}
		if report.OK() {
			fmt.Fprintln(w, "✓ No lost events")
		}
	})
	if err != nil {
		return err
	}

	if !report.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed verification", len(report.Corrupt)+len(report.BadStatus)))
	}
	return nil
}
