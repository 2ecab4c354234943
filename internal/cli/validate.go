package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/store"
	"github.com/cauam1/silverlake/internal/tablespec"
	"github.com/cauam1/silverlake/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Table    string
	Snapshot string
	Database string // optional - history-aware rules need prior state
}

// ValidationResult holds the outcome of validating one snapshot.
type ValidationResult struct {
	Table       string                 `json:"table"`
	Verdict     validate.Verdict       `json:"verdict"`
	Rows        int                    `json:"rows"`
	Quarantined int                    `json:"quarantined"`
	Outcomes    []validate.RuleOutcome `json:"outcomes"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Run a table's ruleset against a snapshot file",
		Long: `Run a table's validation ruleset against a snapshot file without merging.

The snapshot is parsed against the table's schema and every rule in the
ruleset is evaluated. History-aware rules (anomaly detection) compare
against prior state when --db is given; without it they see an empty
history.

Examples:
  silverlake validate ./specs --table sales --snapshot ./sales.csv
  silverlake validate ./specs --table sales --snapshot ./sales.xlsx --db ./history.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateSnapshot(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "path to snapshot file, .csv or .xlsx (required)")
	_ = cmd.MarkFlagRequired("snapshot")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (optional)")

	return cmd
}

func runValidateSnapshot(opts *ValidateOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := loadTableSpec(specsDir, opts.Table)
	if err != nil {
		return outputCommandError(formatter, err)
	}

	snap, err := readSnapshotFile(spec.Schema, opts.Snapshot)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	formatter.VerboseLog("Read %d row(s) from %s", snap.Len(), opts.Snapshot)

	rules, err := spec.RuleSet()
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "invalid ruleset", err))
	}
	engine, err := validate.NewEngine(rules)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "invalid ruleset", err))
	}

	prior, err := loadPriorTable(opts.Database, spec, formatter)
	if err != nil {
		return outputCommandError(formatter, err)
	}

	// A REJECTED verdict comes back in the report, not as an error; errors
	// here are engine failures (schema mismatch, broken rule config).
	report, err := engine.Validate(snap, prior)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "validation error", err))
	}

	return outputValidationReport(formatter, opts.Table, snap.Len(), report)
}

// loadPriorTable loads the table's history from the store, or returns an
// empty table when no database is configured.
func loadPriorTable(dbPath string, spec *tablespec.Spec, formatter *OutputFormatter) (*history.Table, error) {
	if dbPath == "" {
		return history.New(spec.Schema), nil
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	table, err := st.LoadTable(context.Background(), spec.Schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load history", err)
	}
	formatter.VerboseLog("Loaded %d history row(s) for %s", table.Len(), spec.Schema.Table)
	return table, nil
}

func outputValidationReport(formatter *OutputFormatter, table string, rows int, report *validate.Report) error {
	result := ValidationResult{
		Table:       table,
		Verdict:     report.Verdict,
		Rows:        rows,
		Quarantined: len(report.Quarantined),
		Outcomes:    report.Outcomes,
	}

	if formatter.Format == "json" {
		if report.Verdict == validate.VerdictRejected {
			response := CLIResponse{
				Status: "error",
				Data:   result,
				Error: &CLIError{
					Code:    "VALIDATION_REJECTED",
					Message: fmt.Sprintf("snapshot rejected for table %s", table),
				},
			}
			encoder := json.NewEncoder(formatter.Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(response); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "snapshot rejected")
		}
		return formatter.Success(result)
	}

	// Text format
	switch report.Verdict {
	case validate.VerdictPassed:
		fmt.Fprintf(formatter.Writer, "✓ %s: %d row(s) passed\n", table, rows)
	case validate.VerdictQuarantined:
		fmt.Fprintf(formatter.Writer, "⚠ %s: %d row(s) quarantined of %d\n", table, len(report.Quarantined), rows)
	case validate.VerdictRejected:
		fmt.Fprintf(formatter.Writer, "✗ %s: snapshot rejected\n", table)
	}
	for _, o := range report.Outcomes {
		if o.Passed {
			continue
		}
		fmt.Fprintf(formatter.Writer, "\n  rule %s (%s, %s): %d violation(s)\n", o.RuleID, o.Kind, o.Severity, len(o.Violations))
		for _, v := range o.Violations {
			if v.RowIndex == validate.SnapshotLevel {
				fmt.Fprintf(formatter.Writer, "    %s\n", v.Message)
			} else {
				fmt.Fprintf(formatter.Writer, "    row %d (key %s): %s\n", v.RowIndex, v.Key, v.Message)
			}
		}
	}

	if report.Verdict == validate.VerdictRejected {
		return NewExitError(ExitFailure, "snapshot rejected")
	}
	return nil
}

func outputCommandError(formatter *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = formatter.Error(fmt.Sprintf("E%03d", exitErr.Code), exitErr.Error(), nil)
		return exitErr
	}
	_ = formatter.Error("E001", err.Error(), nil)
	return WrapExitError(ExitCommandError, "command failed", err)
}
