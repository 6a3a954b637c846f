package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/outpost/internal/fusion"
	"github.com/roach88/outpost/internal/ir"
)

// FuseOptions holds flags for the fuse command.
type FuseOptions struct {
	*RootOptions
	Subject string
	Record  bool // persist each fused record as a verification event
}

// FuseResult pairs a fused record with the event that recorded it.
type FuseResult struct {
	Record  ir.FusedRecord `json:"record"`
	EventID string         `json:"event_id,omitempty"`
}

// signalFile is the YAML layout read by fuse.
type signalFile struct {
	Subject string      `yaml:"subject"`
	Signals []ir.Signal `yaml:"signals"`
}

// NewFuseCommand creates the fuse command.
func NewFuseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FuseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuse <signals.yaml>",
		Short: "Fuse signals into verified records",
		Long: `Fuse signals from a YAML file into scored records.

Without a subject (in the file or via --subject) signals are grouped by their
subject_id and each group is fused separately. With --record every fused
record is stored as a verification event for the next sync.

Example:
  outpost fuse signals.yaml --subject patient-17
  outpost fuse signals.yaml --record --node field-7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuse(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", "", "fuse every signal as this subject")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "store fused records as verification events")

	return cmd
}

func runFuse(opts *FuseOptions, path string, cmd *cobra.Command) error {
	file, err := loadSignals(path)
	if err != nil {
		return err
	}
	if opts.Subject != "" {
		file.Subject = opts.Subject
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	engine, err := fusion.New(fusion.WithConfig(cfg.FusionConfig()))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fusion config", err)
	}

	groups := groupSignals(file)
	history := fusion.NewHistory(len(groups))
	for _, g := range groups {
		rec, err := engine.Fuse(g.signals, g.subject)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to fuse subject %q", g.subject), err)
		}
		logger.Debug("fused", "subject", rec.SubjectID, "score", rec.Score, "status", rec.Status)
		history.Append(rec)
	}

	records := history.Records()
	results := make([]FuseResult, len(records))
	for i, rec := range records {
		results[i] = FuseResult{Record: rec}
	}

	if opts.Record {
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore(st, logger)

		for i := range results {
			ev, err := st.CreateEvent(cmd.Context(), ir.KindVerification, results[i].Record.Payload())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to record verification event", err)
			}
			results[i].EventID = ev.ID
		}
	}

	return opts.formatter(cmd).Render(results, func(w io.Writer) {
		for _, r := range results {
			rec := r.Record
			fmt.Fprintf(w, "%s: %s (score %.3f, %d signal(s) from %d source(s))\n",
				subjectLabel(rec.SubjectID), rec.Status, rec.Score, rec.SignalCount, len(rec.Sources))
			if rec.Observation != "" || rec.Secondary != "" {
				fmt.Fprintf(w, "  observation %q  secondary %q\n", rec.Observation, rec.Secondary)
			}
			if rec.Location != nil {
				fmt.Fprintf(w, "  location %.5f,%.5f  spread %.3f km over %.2f h\n",
					rec.Location.Lat, rec.Location.Lon, rec.SpatialDeltaKm, rec.TemporalDeltaHours)
			}
			if r.EventID != "" {
				fmt.Fprintf(w, "  recorded as %s\n", r.EventID)
			}
		}
	})
}

func loadSignals(path string) (signalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return signalFile{}, WrapExitError(ExitCommandError, "failed to read signals file", err)
	}

	var file signalFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return signalFile{}, WrapExitError(ExitCommandError, "failed to parse signals file", err)
	}
	if len(file.Signals) == 0 {
		return signalFile{}, NewExitError(ExitCommandError, "signals file contains no signals")
	}
	return file, nil
}

type signalGroup struct {
	subject string
	signals []ir.Signal
}

// groupSignals splits signals by subject unless the file names one subject.
// Groups are ordered by subject.
func groupSignals(file signalFile) []signalGroup {
	if file.Subject != "" {
		return []signalGroup{{subject: file.Subject, signals: file.Signals}}
	}

	bySubject := make(map[string][]ir.Signal)
	for _, s := range file.Signals {
		bySubject[s.SubjectID] = append(bySubject[s.SubjectID], s)
	}
	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	groups := make([]signalGroup, len(subjects))
	for i, s := range subjects {
		groups[i] = signalGroup{subject: s, signals: bySubject[s]}
	}
	return groups
}

func subjectLabel(subject string) string {
	if subject == "" {
		return "(no subject)"
	}
	return subject
}
