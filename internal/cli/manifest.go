package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/store"
)

// ManifestOptions holds flags for the manifest command.
type ManifestOptions struct {
	*RootOptions
	Table    string
	Database string
	BatchID  string // optional - defaults to the most recent run
	List     bool   // list all runs instead of showing one
}

// ManifestSummary is the listing form of a manifest.
type ManifestSummary struct {
	BatchID string         `json:"batch_id"`
	AsOf    string         `json:"as_of"`
	Counts  map[string]int `json:"counts"`
}

// NewManifestCommand creates the manifest command.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManifestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Show merge run manifests",
		Long: `Show the change manifest of a merge run.

Without --batch shows the most recent run for the table. With --batch
shows that specific run. With --list shows a summary line per run in
chronological order.

Examples:
  silverlake manifest --db ./history.db --table sales
  silverlake manifest --db ./history.db --table sales --list
  silverlake manifest --db ./history.db --table sales --batch 0192a1b2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table name (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.BatchID, "batch", "", "batch id of the run to show (default: most recent)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list every run for the table")

	return cmd
}

func runManifest(opts *ManifestOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer st.Close()

	if opts.List {
		manifests, err := st.ListManifests(ctx, opts.Table)
		if err != nil {
			return outputCommandError(formatter, WrapExitError(ExitCommandError, "failed to list manifests", err))
		}
		return outputManifestList(formatter, opts.Table, manifests)
	}

	manifest, err := resolveManifest(ctx, st, opts)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	return outputManifest(formatter, manifest)
}

// resolveManifest picks the requested run, or the latest one for the
// table when no batch id was given.
func resolveManifest(ctx context.Context, st *store.Store, opts *ManifestOptions) (*merge.Manifest, error) {
	if opts.BatchID != "" {
		manifest, err := st.ReadManifest(ctx, opts.BatchID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("no manifest for batch %q", opts.BatchID))
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read manifest", err)
		}
		return manifest, nil
	}

	manifests, err := st.ListManifests(ctx, opts.Table)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list manifests", err)
	}
	if len(manifests) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no merge runs recorded for table %q", opts.Table))
	}
	return manifests[len(manifests)-1], nil
}

func outputManifest(formatter *OutputFormatter, m *merge.Manifest) error {
	if formatter.Format == "json" {
		return formatter.Success(m)
	}

	fmt.Fprintf(formatter.Writer, "batch %s (as of %s)\n", m.BatchID, m.AsOf.Format(time.RFC3339))
	counts := m.Counts()
	fmt.Fprint(formatter.Writer, " ")
	for _, name := range countOrder {
		fmt.Fprintf(formatter.Writer, " %s: %d", name, counts[name])
	}
	fmt.Fprintln(formatter.Writer)

	printEntries := func(label string, entries []merge.Entry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(formatter.Writer, "  %s:\n", label)
		for _, e := range entries {
			line := fmt.Sprintf("    %s v%d (%s)", e.Key, e.Version, shortSurrogate(e.SurrogateKey))
			if e.RevertOf != "" {
				line += " revert of " + shortSurrogate(e.RevertOf)
			}
			fmt.Fprintln(formatter.Writer, line)
		}
	}
	printEntries("inserted", m.Inserted)
	printEntries("updated", m.Updated)
	printEntries("closed", m.Closed)
	printEntries("retired", m.Retired)
	if len(m.Quarantined) > 0 {
		fmt.Fprintf(formatter.Writer, "  quarantined: %v\n", m.Quarantined)
	}
	if len(m.Excluded) > 0 {
		fmt.Fprintf(formatter.Writer, "  excluded: %v\n", m.Excluded)
	}
	return nil
}

func outputManifestList(formatter *OutputFormatter, table string, manifests []*merge.Manifest) error {
	if formatter.Format == "json" {
		summaries := make([]ManifestSummary, 0, len(manifests))
		for _, m := range manifests {
			summaries = append(summaries, ManifestSummary{
				BatchID: m.BatchID,
				AsOf:    m.AsOf.Format(time.RFC3339),
				Counts:  m.Counts(),
			})
		}
		return formatter.Success(summaries)
	}

	if len(manifests) == 0 {
		fmt.Fprintf(formatter.Writer, "%s: no merge runs recorded\n", table)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%s: %d run(s)\n", table, len(manifests))
	for _, m := range manifests {
		counts := m.Counts()
		fmt.Fprintf(formatter.Writer, "  %s  as of %s ", m.BatchID, m.AsOf.Format(time.RFC3339))
		for _, name := range countOrder {
			if counts[name] > 0 {
				fmt.Fprintf(formatter.Writer, " %s: %d", name, counts[name])
			}
		}
		fmt.Fprintln(formatter.Writer)
	}
	return nil
}

// shortSurrogate truncates a surrogate key for display.
func shortSurrogate(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
