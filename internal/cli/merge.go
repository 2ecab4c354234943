package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cauam1/silverlake/internal/diff"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/pipeline"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/store"
	"github.com/cauam1/silverlake/internal/validate"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Table            string
	Snapshot         string
	Database         string
	AsOf             string
	TransformVersion string
}

// MergeResult holds the outcome of one merge run.
type MergeResult struct {
	Table       string           `json:"table"`
	BatchID     string           `json:"batch_id"`
	AsOf        string           `json:"as_of"`
	Verdict     validate.Verdict `json:"verdict"`
	Counts      map[string]int   `json:"counts"`
	Quarantined []record.Key     `json:"quarantined,omitempty"`
	Excluded    []record.Key     `json:"excluded,omitempty"`
}

// countOrder fixes the display order of manifest counts in text output.
var countOrder = []string{"inserted", "updated", "closed", "retired", "unchanged", "quarantined", "excluded"}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <specs-dir>",
		Short: "Merge a snapshot into the history database",
		Long: `Validate a snapshot and merge it into the table's SCD Type 2 history.

The run is whole-or-nothing: on a rejected snapshot or an out-of-order
timestamp under the ABORT policy the database is left untouched. On
success the new table state and the run's manifest are committed in one
transaction, and audit events for each stage are recorded.

--as-of is the snapshot's extraction instant; it becomes the effective
timestamp of every row version this run opens or closes. It defaults to
the current time.

Examples:
  silverlake merge ./specs --table sales --snapshot ./sales.csv --db ./history.db
  silverlake merge ./specs --table sales --snapshot ./sales.xlsx --db ./history.db --as-of 2025-06-01`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "path to snapshot file, .csv or .xlsx (required)")
	_ = cmd.MarkFlagRequired("snapshot")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "snapshot extraction instant, RFC 3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().StringVar(&opts.TransformVersion, "transform-version", "dev", "transform version stamped on affected rows")

	return cmd
}

func runMerge(opts *MergeOptions, specsDir string, cmd *cobra.Command) error {
	ctx := context.Background()
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

	asOf := time.Now().UTC()
	if opts.AsOf != "" {
		asOf, err = parseAsOf(opts.AsOf)
		if err != nil {
			return outputCommandError(formatter, WrapExitError(ExitCommandError, "invalid --as-of", err))
		}
	}

	rules, err := spec.RuleSet()
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "invalid ruleset", err))
	}
	engine, err := validate.NewEngine(rules)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "invalid ruleset", err))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer st.Close()

	prior, err := st.LoadTable(ctx, spec.Schema)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to load history", err))
	}
	formatter.VerboseLog("Loaded %d prior row(s) for %s", prior.Len(), opts.Table)

	p, err := pipeline.New(engine, spec.Merge, opts.TransformVersion, pipeline.WithAuditSink(st.AuditSink()))
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to build pipeline", err))
	}

	res, err := p.Run(snap, prior, asOf)
	if err != nil {
		return outputMergeFailure(formatter, opts.Table, err)
	}

	if err := st.SaveRun(ctx, res.Table, res.Manifest); err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to persist run", err))
	}

	result := MergeResult{
		Table:       opts.Table,
		BatchID:     res.BatchID,
		AsOf:        asOf.Format(time.RFC3339),
		Verdict:     res.Report.Verdict,
		Counts:      res.Manifest.Counts(),
		Quarantined: res.Manifest.Quarantined,
		Excluded:    res.Manifest.Excluded,
	}
	return outputMergeResult(formatter, result)
}

// outputMergeFailure maps pipeline errors to exit codes: validation and
// timestamp discipline failures are run failures (exit 1), everything else
// is a command error (exit 2).
func outputMergeFailure(formatter *OutputFormatter, table string, err error) error {
	var rejected *validate.RejectedError
	if errors.As(err, &rejected) {
		_ = formatter.Error("VALIDATION_REJECTED", fmt.Sprintf("table %s: %v", table, err), rejected.Report.Outcomes)
		return WrapExitError(ExitFailure, "snapshot rejected", err)
	}

	var outOfOrder *merge.OutOfOrderSnapshotError
	if errors.As(err, &outOfOrder) {
		_ = formatter.Error("OUT_OF_ORDER", fmt.Sprintf("table %s: %v", table, err), nil)
		return WrapExitError(ExitFailure, "out-of-order snapshot", err)
	}

	var dup *diff.DuplicateKeyError
	if errors.As(err, &dup) {
		_ = formatter.Error("DUPLICATE_KEY", fmt.Sprintf("table %s: %v", table, err), nil)
		return WrapExitError(ExitFailure, "duplicate natural keys", err)
	}

	var mismatch *record.SchemaMismatchError
	if errors.As(err, &mismatch) {
		_ = formatter.Error("SCHEMA_MISMATCH", fmt.Sprintf("table %s: %v", table, err), nil)
		return WrapExitError(ExitCommandError, "schema mismatch", err)
	}

	return outputCommandError(formatter, WrapExitError(ExitCommandError, "merge failed", err))
}

func outputMergeResult(formatter *OutputFormatter, result MergeResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ merged snapshot into %s (batch %s, as of %s)\n", result.Table, result.BatchID, result.AsOf)
	fmt.Fprint(formatter.Writer, " ")
	for _, name := range countOrder {
		fmt.Fprintf(formatter.Writer, " %s: %d", name, result.Counts[name])
	}
	fmt.Fprintln(formatter.Writer)
	if len(result.Quarantined) > 0 {
		fmt.Fprintf(formatter.Writer, "  quarantined keys: %v\n", result.Quarantined)
	}
	if len(result.Excluded) > 0 {
		fmt.Fprintf(formatter.Writer, "  excluded keys: %v\n", result.Excluded)
	}
	return nil
}
