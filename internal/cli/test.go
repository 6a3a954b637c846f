package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/outpost/internal/harness"
)

// GoldenState says how a scenario's snapshot related to its golden file.
type GoldenState string

const (
	GoldenAbsent   GoldenState = "absent"   // No golden file; assertions only
	GoldenMatched  GoldenState = "matched"  // Snapshot equals the golden file
	GoldenMismatch GoldenState = "mismatch" // Snapshot differs from the golden file
	GoldenUpdated  GoldenState = "updated"  // Golden file rewritten from the snapshot
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario name glob
	Jobs   int    // scenarios run concurrently
}

// ScenarioResult is the verdict for one scenario file.
type ScenarioResult struct {
	Name      string      `json:"name"`
	File      string      `json:"file"`
	Pass      bool        `json:"pass"`
	Golden    GoldenState `json:"golden,omitempty"`
	Fused     string      `json:"fused,omitempty"` // Fused record status, when the scenario fuses
	Synced    int         `json:"synced"`          // Sync attempts traced across all batches
	Conflicts int         `json:"conflicts"`
	Errors    []string    `json:"errors,omitempty"`
}

// TestResult is the summary of a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario harness",
		Long: `Run YAML scenarios against the real fusion engine, store, reconciler,
and sync coordinator.

Each scenario runs against a fresh temporary store and an in-memory remote
authority. Assertions are checked and, when <scenarios-dir>/golden/<name>.golden
exists, the outcome snapshot is compared against it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  outpost test ./scenarios
  outpost test ./scenarios --filter "severity_*"
  outpost test ./scenarios --update
  outpost test ./scenarios --jobs 8 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name glob")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 4, "number of scenarios to run concurrently")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if info, err := os.Stat(scenariosDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("failed to find scenarios: %v", err))
	}

	result := TestResult{Scenarios: make([]ScenarioResult, len(files)), Total: len(files)}

	// Each scenario owns its temporary store, so they run independently; the
	// results slot keeps the report in discovery order.
	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for i, file := range files {
		g.Go(func() error {
			result.Scenarios[i] = evaluateScenario(file, opts.Update)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range result.Scenarios {
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles walks dir for .yaml and .yml scenarios, skipping golden
// directories. filter is matched against the file name without extension.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern %q: %w", filter, err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// evaluateScenario loads, runs, and judges one scenario file. It never fails:
// a scenario that cannot run is a failed verdict naming the stage.
func evaluateScenario(file string, update bool) ScenarioResult {
	verdict := ScenarioResult{Name: filepath.Base(file), File: file}
	broken := func(stage string, err error) ScenarioResult {
		verdict.Errors = []string{fmt.Sprintf("%s: %v", stage, err)}
		return verdict
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return broken("Load error", err)
	}
	verdict.Name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		return broken("Execution error", err)
	}
	if result.Fused != nil {
		verdict.Fused = string(result.Fused.Status)
	}
	verdict.Synced = len(result.Trace)
	verdict.Conflicts = len(result.Conflicts)

	snapshot, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return broken("Snapshot error", err)
	}

	golden := goldenFilePath(file)
	if update {
		if err := writeGolden(golden, snapshot); err != nil {
			return broken("Golden update error", err)
		}
		verdict.Golden = GoldenUpdated
		verdict.Pass = true
		return verdict
	}

	verdict.Golden, err = matchGolden(golden, snapshot)
	if err != nil {
		return broken("Golden comparison error", err)
	}

	verdict.Errors = result.Errors
	if verdict.Golden == GoldenMismatch {
		verdict.Errors = append(verdict.Errors, "outcome does not match golden file")
	}
	verdict.Pass = result.Pass && verdict.Golden != GoldenMismatch
	return verdict
}

// goldenFilePath returns the golden file for a scenario: golden/<name>.golden
// next to the scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	return filepath.Join(filepath.Dir(scenarioFile), "golden", strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func writeGolden(path string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, snapshot, 0644)
}

func matchGolden(path string, snapshot []byte) (GoldenState, error) {
	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return GoldenAbsent, nil
	}
	if err != nil {
		return "", err
	}
	if bytes.Equal(bytes.TrimSpace(want), bytes.TrimSpace(snapshot)) {
		return GoldenMatched, nil
	}
	return GoldenMismatch, nil
}

func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	return testFailure(result)
}

func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	for _, r := range result.Scenarios {
		printScenario(w, r)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if err := testFailure(result); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

func printScenario(w io.Writer, r ScenarioResult) {
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}

	var notes []string
	if r.Fused != "" {
		notes = append(notes, "fused "+r.Fused)
	}
	if r.Synced > 0 {
		notes = append(notes, fmt.Sprintf("%d sync attempts", r.Synced))
	}
	if r.Conflicts > 0 {
		notes = append(notes, fmt.Sprintf("%d conflicts", r.Conflicts))
	}
	if r.Golden == GoldenUpdated {
		notes = append(notes, "golden updated")
	}

	line := mark + " " + r.Name
	if len(notes) > 0 {
		line += " (" + strings.Join(notes, ", ") + ")"
	}
	fmt.Fprintln(w, line)

	if r.Golden == GoldenMismatch {
		fmt.Fprintln(w, "  Golden file mismatch (run with --update to regenerate)")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// testFailure is exit code 1 when any scenario failed.
func testFailure(result TestResult) error {
	if result.Failed == 0 {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
}
