// Package history models the append-only historical table produced by the
// SCD Type 2 merge engine.
//
// A Table holds HistoricalRows in insertion order, logically partitioned by
// natural key. Two invariants hold at all times:
//
//  1. Each natural key has at most one row with IsCurrent set.
//  2. The validity intervals [EffectiveFrom, EffectiveTo) of a key's
//     versions are contiguous and non-overlapping.
//
// Tables are treated as values: the merge engine never mutates a table in
// place, it derives a new one. CheckInvariants verifies both invariants and
// is run after every merge.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/cauam1/silverlake/internal/record"
)

// Lineage carries the provenance metadata stamped on every row the merge
// engine creates or closes. Purely descriptive, no decision logic.
type Lineage struct {
	SourceBatchID    string    `json:"source_batch_id,omitempty"`
	IngestedAt       time.Time `json:"ingested_at,omitempty"`
	TransformVersion string    `json:"transform_version,omitempty"`
}

// Row is one version of one entity: a record plus SCD2 metadata.
//
// EffectiveTo is the zero time for the open-ended (current or retired-open)
// sentinel; use Open() rather than comparing against time.Time{} directly.
type Row struct {
	Key           record.Key    `json:"key"`
	Record        record.Record `json:"record"`
	SurrogateKey  string        `json:"surrogate_key"`
	Version       int           `json:"version"`
	EffectiveFrom time.Time     `json:"effective_from"`
	EffectiveTo   time.Time     `json:"effective_to,omitempty"`
	IsCurrent     bool          `json:"is_current"`

	// Retired marks a row closed because the entity disappeared from the
	// source, not because its attributes changed. A retired row has no
	// successor until the key reappears, so the interval chain may resume
	// later than it closed.
	Retired bool    `json:"retired,omitempty"`
	Lineage Lineage `json:"lineage,omitempty"`
}

// Open reports whether the row's validity interval is open-ended.
func (r Row) Open() bool { return r.EffectiveTo.IsZero() }

// ValidAt reports whether the row was the valid version at instant t.
func (r Row) ValidAt(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	return r.Open() || t.Before(r.EffectiveTo)
}

// Table is an insertion-ordered collection of Rows indexed by natural key.
type Table struct {
	schema *record.Schema
	rows   []Row
	byKey  map[record.Key][]int // row indices per key, in insertion order
}

// New creates an empty table for the given schema.
func New(schema *record.Schema) *Table {
	return &Table{
		schema: schema,
		byKey:  make(map[record.Key][]int),
	}
}

// FromRows builds a table from pre-existing rows (e.g. loaded from the
// store). Rows must already be in insertion order; invariants are checked.
func FromRows(schema *record.Schema, rows []Row) (*Table, error) {
	t := New(schema)
	for _, r := range rows {
		t.append(r)
	}
	if err := t.CheckInvariants(); err != nil {
		return nil, err
	}
	return t, nil
}

// append adds a row without invariant checking. Package-internal: callers
// outside the merge path go through FromRows.
func (t *Table) append(r Row) {
	t.byKey[r.Key] = append(t.byKey[r.Key], len(t.rows))
	t.rows = append(t.rows, r)
}

// Schema returns the table's schema.
func (t *Table) Schema() *record.Schema { return t.schema }

// Len returns the total number of historical rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns all rows in insertion order. The slice is a copy; mutating
// it does not affect the table.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Keys returns all natural keys ever seen, sorted for determinism.
func (t *Table) Keys() []record.Key {
	keys := make([]record.Key, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// VersionsOf returns all versions of a key in insertion order.
func (t *Table) VersionsOf(key record.Key) []Row {
	idxs := t.byKey[key]
	out := make([]Row, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, t.rows[i])
	}
	return out
}

// Current returns the current row for a key, if any.
func (t *Table) Current(key record.Key) (Row, bool) {
	for _, i := range t.byKey[key] {
		if t.rows[i].IsCurrent {
			return t.rows[i], true
		}
	}
	return Row{}, false
}

// CurrentRows returns the current row per natural key. Keys retired with
// zero current rows are absent from the result.
func (t *Table) CurrentRows() map[record.Key]Row {
	out := make(map[record.Key]Row)
	for key, idxs := range t.byKey {
		for _, i := range idxs {
			if t.rows[i].IsCurrent {
				out[key] = t.rows[i]
				break
			}
		}
	}
	return out
}

// AsOf returns the rows valid at instant ts, in insertion order. This is
// the point-in-time query: for every key it yields exactly the version
// whose validity interval contains ts, or nothing if the key did not exist
// (or was retired) at ts.
func (t *Table) AsOf(ts time.Time) []Row {
	var out []Row
	for _, r := range t.rows {
		if r.ValidAt(ts) {
			out = append(out, r)
		}
	}
	return out
}

// MaxVersion returns the highest version number recorded for a key, or 0
// if the key has never been seen.
func (t *Table) MaxVersion(key record.Key) int {
	max := 0
	for _, i := range t.byKey[key] {
		if v := t.rows[i].Version; v > max {
			max = v
		}
	}
	return max
}

// CheckInvariants verifies the SCD2 invariants for every natural key:
// at most one current row, current rows open-ended, and validity intervals
// contiguous with no gaps or overlaps.
func (t *Table) CheckInvariants() error {
	for key, idxs := range t.byKey {
		versions := make([]Row, 0, len(idxs))
		for _, i := range idxs {
			versions = append(versions, t.rows[i])
		}
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].Version < versions[j].Version
		})

		currents := 0
		for i, r := range versions {
			if r.IsCurrent {
				currents++
				if !r.Open() {
					return fmt.Errorf("key %s version %d: current row has a close timestamp", key, r.Version)
				}
			}
			if r.Version != i+1 {
				return fmt.Errorf("key %s: version numbers not dense, expected %d got %d", key, i+1, r.Version)
			}
			if !r.Open() && !r.EffectiveTo.After(r.EffectiveFrom) {
				return fmt.Errorf("key %s version %d: empty or inverted validity interval", key, r.Version)
			}
			if i > 0 {
				prev := versions[i-1]
				if prev.Open() {
					return fmt.Errorf("key %s version %d: predecessor still open", key, r.Version)
				}
				// A retirement ends the chain; the key may reappear any
				// time at or after the close. Otherwise intervals must
				// meet exactly.
				if prev.Retired {
					if r.EffectiveFrom.Before(prev.EffectiveTo) {
						return fmt.Errorf("key %s version %d: reappears before its retirement at %s",
							key, r.Version, prev.EffectiveTo.Format(time.RFC3339))
					}
				} else if !prev.EffectiveTo.Equal(r.EffectiveFrom) {
					return fmt.Errorf("key %s version %d: interval gap or overlap (prev closes %s, next opens %s)",
						key, r.Version, prev.EffectiveTo.Format(time.RFC3339), r.EffectiveFrom.Format(time.RFC3339))
				}
			}
		}
		if currents > 1 {
			return fmt.Errorf("key %s: %d current rows, at most one allowed", key, currents)
		}
		// Only the latest version may be current.
		if currents == 1 && !versions[len(versions)-1].IsCurrent {
			return fmt.Errorf("key %s: a superseded version is still marked current", key)
		}
	}
	return nil
}

// VersionRef identifies one row version by natural key and version
// number. Unlike a surrogate key it is unique within a table even when a
// revert reuses a prior version's surrogate identity.
type VersionRef struct {
	Key     record.Key
	Version int
}

// WithLineage returns a new table with the given lineage stamped on the
// rows whose (key, version) identity appears in the map. All other rows
// are carried over untouched. Used by the lineage recorder; never changes
// SCD2 metadata.
func (t *Table) WithLineage(stamps map[VersionRef]Lineage) *Table {
	out := New(t.schema)
	for _, r := range t.rows {
		if lin, ok := stamps[VersionRef{Key: r.Key, Version: r.Version}]; ok {
			r.Lineage = lin
		}
		out.append(r)
	}
	return out
}

// Equal reports whether two tables contain the same rows in the same
// insertion order. Used to verify merge idempotency.
func (t *Table) Equal(other *Table) bool {
	if len(t.rows) != len(other.rows) {
		return false
	}
	for i := range t.rows {
		a, b := t.rows[i], other.rows[i]
		if a.SurrogateKey != b.SurrogateKey ||
			a.Key != b.Key ||
			a.Version != b.Version ||
			a.IsCurrent != b.IsCurrent ||
			a.Retired != b.Retired ||
			!a.EffectiveFrom.Equal(b.EffectiveFrom) ||
			!a.EffectiveTo.Equal(b.EffectiveTo) {
			return false
		}
		if !record.RecordsEqual(t.schema, a.Record, b.Record, 0) {
			return false
		}
	}
	return true
}
