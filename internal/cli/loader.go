package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cauam1/silverlake/internal/extract"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/tablespec"
)

// loadTableSpec loads the spec directory and resolves a single table
// definition. Load failures and unknown table names are command errors.
func loadTableSpec(specsDir, table string) (*tablespec.Spec, error) {
	result, err := tablespec.Load(specsDir)
	if err != nil {
		var loadErr *tablespec.LoadError
		if errors.As(err, &loadErr) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
		}
		return nil, WrapExitError(ExitCommandError, "failed to load table specs", err)
	}

	spec := result.ByName(table)
	if spec == nil {
		names := make([]string, 0, len(result.Specs))
		for _, s := range result.Specs {
			names = append(names, s.Schema.Table)
		}
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("table %q not defined in %s (defined: %v)", table, specsDir, names))
	}
	return spec, nil
}

// readSnapshotFile opens a snapshot file and parses it against the schema.
// The format is chosen by file extension (.csv or .xlsx).
func readSnapshotFile(schema *record.Schema, path string) (*record.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot file", err)
	}
	defer f.Close()

	snap, err := extract.ReadSnapshot(schema, path, f)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return nil, WrapExitError(ExitCommandError, "unsupported snapshot format", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	return snap, nil
}

// parseAsOf accepts RFC 3339 timestamps and bare dates.
func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(record.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want RFC 3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}

// RowView is the wire representation of one history row.
type RowView struct {
	Key           string          `json:"key"`
	Version       int             `json:"version"`
	Record        json.RawMessage `json:"record"`
	SurrogateKey  string          `json:"surrogate_key"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   string          `json:"effective_to,omitempty"`
	IsCurrent     bool            `json:"is_current"`
	Retired       bool            `json:"retired,omitempty"`
	BatchID       string          `json:"batch_id,omitempty"`
}

func newRowView(r history.Row) (RowView, error) {
	rec, err := record.MarshalCanonical(r.Record)
	if err != nil {
		return RowView{}, fmt.Errorf("row %s v%d: %w", r.Key, r.Version, err)
	}
	v := RowView{
		Key:           string(r.Key),
		Version:       r.Version,
		Record:        json.RawMessage(rec),
		SurrogateKey:  r.SurrogateKey,
		EffectiveFrom: r.EffectiveFrom.Format(time.RFC3339),
		IsCurrent:     r.IsCurrent,
		Retired:       r.Retired,
		BatchID:       r.Lineage.SourceBatchID,
	}
	if !r.Open() {
		v.EffectiveTo = r.EffectiveTo.Format(time.RFC3339)
	}
	return v, nil
}

func newRowViews(rows []history.Row) ([]RowView, error) {
	views := make([]RowView, 0, len(rows))
	for _, r := range rows {
		v, err := newRowView(r)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
