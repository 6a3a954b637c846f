package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/reconcile"
)

// ReconcileResult is the dry-run outcome of reconciling two versions.
type ReconcileResult struct {
	Causality            string             `json:"causality"`
	Classification       ir.ConflictType    `json:"classification,omitempty"`
	Fields               []string           `json:"fields,omitempty"`
	Strategy             ir.Strategy        `json:"strategy,omitempty"`
	Confidence           float64            `json:"confidence"`
	RequiresManualReview bool               `json:"requires_manual_review"`
	Winner               string             `json:"winner,omitempty"`
	Payload              ir.IRObject        `json:"payload,omitempty"`
	Report               *ir.ConflictReport `json:"report,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <local.json> <remote.json>",
		Short: "Dry-run reconciliation of two event versions",
		Long: `Reconcile two versions of the same event under the configured policy
without touching any store.

Each file holds one event as JSON (id, node_id, wall_time, clock, payload).
Versions where one clock happened-before the other short-circuit; concurrent
versions are classified and resolved.

Example:
  outpost reconcile local.json remote.json --config outpost.yaml`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runReconcile(opts *RootOptions, localPath, remotePath string, cmd *cobra.Command) error {
	local, err := loadEvent(localPath)
	if err != nil {
		return err
	}
	remote, err := loadEvent(remotePath)
	if err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	rec, err := newReconciler(cfg)
	if err != nil {
		return err
	}

	causality := reconcile.Causality(local.Clock, remote.Clock)
	result := ReconcileResult{Causality: causality.String()}
	switch causality {
	case reconcile.AcceptRemote:
		result.Winner, result.Payload, result.Confidence = "remote", remote.Payload, 1
	case reconcile.KeepLocal:
		result.Winner, result.Payload, result.Confidence = "local", local.Payload, 1
	default:
		res, err := rec.Reconcile(local, remote)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to reconcile", err)
		}
		result.Classification = res.Detection.Classification
		result.Fields = res.Detection.Fields
		result.Strategy = res.Strategy
		result.Confidence = res.Confidence
		result.RequiresManualReview = res.RequiresManualReview
		result.Winner = res.Winner
		result.Payload = res.Payload
		result.Report = res.Report
	}

	return opts.formatter(cmd).Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "Causality: %s\n", result.Causality)
		if result.Classification != "" {
			fmt.Fprintf(w, "Conflict: %s on [%s]\n", result.Classification, strings.Join(result.Fields, ", "))
		}
		if result.Strategy != "" {
			fmt.Fprintf(w, "Strategy: %s (confidence %.2f)\n", result.Strategy, result.Confidence)
		}
		switch {
		case result.RequiresManualReview:
			fmt.Fprintln(w, "Resolution: manual review required")
		case result.Winner != "":
			fmt.Fprintf(w, "Resolution: %s version wins\n", result.Winner)
		default:
			fmt.Fprintln(w, "Resolution: merged")
		}
		if result.Payload != nil {
			data, err := json.MarshalIndent(result.Payload, "", "  ")
			if err == nil {
				fmt.Fprintf(w, "Payload:\n%s\n", data)
			}
		}
	})
}

func loadEvent(path string) (ir.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Event{}, WrapExitError(ExitCommandError, "failed to read event file", err)
	}
	var ev ir.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ir.Event{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	if ev.ID == "" {
		return ir.Event{}, NewExitError(ExitCommandError, fmt.Sprintf("%s: event id is required", path))
	}
	return ev, nil
}
