package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Table    string
	Database string
	AsOf     string // optional - point-in-time query
	Key      string // optional - restrict to one natural key
	All      bool   // include closed versions
}

// HistoryResult holds a point-in-time or full-history query result.
type HistoryResult struct {
	Table string    `json:"table"`
	AsOf  string    `json:"as_of,omitempty"`
	Rows  []RowView `json:"rows"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <specs-dir>",
		Short: "Query table history",
		Long: `Query a table's version history.

By default shows the current row per key. With --as-of shows the rows
that were valid at that instant (time travel). With --all shows every
version, open and closed. With --key restricts output to one natural
key's version chain.

Natural keys are matched against their canonical form: the JSON encoding
of the key attribute values, e.g. "West" for a single string key.

Examples:
  silverlake history ./specs --table sales --db ./history.db
  silverlake history ./specs --table sales --db ./history.db --as-of 2025-03-15
  silverlake history ./specs --table sales --db ./history.db --key '"West"' --all`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "show rows valid at this instant, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.Key, "key", "", "restrict to one natural key (canonical form)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "show every version, not just current rows")

	return cmd
}

func runHistory(opts *HistoryOptions, specsDir string, cmd *cobra.Command) error {
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

	rows, asOfLabel, err := selectHistoryRows(table, opts)
	if err != nil {
		return outputCommandError(formatter, err)
	}

	views, err := newRowViews(rows)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to encode rows", err))
	}

	result := HistoryResult{Table: opts.Table, AsOf: asOfLabel, Rows: views}
	return outputHistoryResult(formatter, result)
}

// selectHistoryRows applies the --as-of / --all / --key selection to the
// loaded table. Rows come back in the table's deterministic order: keys
// ascending, versions ascending.
func selectHistoryRows(table *history.Table, opts *HistoryOptions) ([]history.Row, string, error) {
	var rows []history.Row
	var asOfLabel string

	switch {
	case opts.AsOf != "":
		ts, err := parseAsOf(opts.AsOf)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "invalid --as-of", err)
		}
		asOfLabel = ts.Format(time.RFC3339)
		rows = table.AsOf(ts)
	case opts.All:
		for _, key := range table.Keys() {
			rows = append(rows, table.VersionsOf(key)...)
		}
	default:
		for _, key := range table.Keys() {
			if current, ok := table.Current(key); ok {
				rows = append(rows, current)
			}
		}
	}

	if opts.Key != "" {
		want := record.Key(opts.Key)
		filtered := rows[:0]
		for _, r := range rows {
			if r.Key == want {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return rows, asOfLabel, nil
}

func outputHistoryResult(formatter *OutputFormatter, result HistoryResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(result.Rows) == 0 {
		fmt.Fprintf(formatter.Writer, "%s: no matching rows\n", result.Table)
		return nil
	}

	header := result.Table
	if result.AsOf != "" {
		header += " as of " + result.AsOf
	}
	fmt.Fprintf(formatter.Writer, "%s (%d row(s))\n", header, len(result.Rows))
	for _, r := range result.Rows {
		to := r.EffectiveTo
		if to == "" {
			to = "open"
		}
		flags := ""
		if r.IsCurrent {
			flags += " current"
		}
		if r.Retired {
			flags += " retired"
		}
		fmt.Fprintf(formatter.Writer, "  %s v%d  %s .. %s%s  %s\n", r.Key, r.Version, r.EffectiveFrom, to, flags, r.Record)
	}
	return nil
}
