package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/metrics"
	"github.com/cauam1/silverlake/internal/store"
)

// KPIOptions holds flags for the kpi command.
type KPIOptions struct {
	*RootOptions
	Table    string
	Database string
	BatchID  string // optional - restrict aggregation to keys that run touched
	Column   string // optional - emit a cumulative series for one column
}

// NewKPICommand creates the kpi command.
func NewKPICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KPIOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "kpi <specs-dir>",
		Short: "Aggregate KPIs over a table's current rows",
		Long: `Aggregate numeric columns over a table's current rows.

Reports count, total, mean, min and max per numeric column. With --batch
the aggregation is delta-aware: only the keys that merge run touched are
included. With --column the output is instead a cumulative series for
that column, ordered by effective timestamp, with running totals and
point-over-point growth.

Examples:
  silverlake kpi ./specs --table sales --db ./history.db
  silverlake kpi ./specs --table sales --db ./history.db --batch 0192a1b2-...
  silverlake kpi ./specs --table sales --db ./history.db --column sales --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKPI(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "restrict aggregation to keys touched by this merge run")
	cmd.Flags().StringVar(&opts.Column, "column", "", "emit a cumulative series for this numeric column")

	return cmd
}

func runKPI(opts *KPIOptions, specsDir string, cmd *cobra.Command) error {
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

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer st.Close()

	table, err := st.LoadTable(ctx, spec.Schema)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to load history", err))
	}

	if opts.Column != "" {
		series, err := metrics.CumulativeSeries(table, opts.Column)
		if err != nil {
			return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to compute series", err))
		}
		return outputSeries(formatter, opts.Table, opts.Column, series)
	}

	var manifest *merge.Manifest
	if opts.BatchID != "" {
		manifest, err = st.ReadManifest(ctx, opts.BatchID)
		if errors.Is(err, sql.ErrNoRows) {
			return outputCommandError(formatter, NewExitError(ExitCommandError, fmt.Sprintf("no manifest for batch %q", opts.BatchID)))
		}
		if err != nil {
			return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to read manifest", err))
		}
		formatter.VerboseLog("Restricting to %d key(s) from batch %s", len(manifest.AffectedKeys()), opts.BatchID)
	}

	report := metrics.ComputeDelta(table, manifest)
	return outputReport(formatter, report)
}

func outputReport(formatter *OutputFormatter, report *metrics.Report) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "%s: %d current row(s)\n", report.Table, report.Rows)
	for _, c := range report.Columns {
		fmt.Fprintf(formatter.Writer, "  %-16s count=%d total=%s mean=%s min=%s max=%s\n",
			c.Column, c.Count, formatFloat(c.Total), formatFloat(c.Mean), formatFloat(c.Min), formatFloat(c.Max))
	}
	return nil
}

func outputSeries(formatter *OutputFormatter, table, column string, series []metrics.Point) error {
	if formatter.Format == "json" {
		return formatter.Success(struct {
			Table  string          `json:"table"`
			Column string          `json:"column"`
			Points []metrics.Point `json:"points"`
		}{Table: table, Column: column, Points: series})
	}

	fmt.Fprintf(formatter.Writer, "%s.%s: %d point(s)\n", table, column, len(series))
	for _, p := range series {
		growth := "-"
		if p.Growth != nil {
			growth = fmt.Sprintf("%+.1f%%", *p.Growth*100)
		}
		fmt.Fprintf(formatter.Writer, "  %s  %s  value=%s cumulative=%s growth=%s\n",
			p.EffectiveFrom.Format(time.RFC3339), p.Key, formatFloat(p.Value), formatFloat(p.Cumulative), growth)
	}
	return nil
}

// formatFloat renders aggregates without trailing zero noise.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
