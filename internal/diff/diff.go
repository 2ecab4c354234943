// Package diff classifies an accepted snapshot against the current history
// state, per natural key.
//
// The differ owns no policy: it reports what changed, and the merge engine
// decides what to do about it. Classification is embarrassingly parallel
// across natural keys; this implementation walks rows sequentially because
// the per-row work is a handful of comparisons, but nothing here depends
// on evaluation order.
package diff

import (
	"fmt"
	"sort"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// Outcome classifies one natural key relative to the current record set.
type Outcome string

const (
	// Unseen: the key has no current row in history.
	Unseen Outcome = "UNSEEN"
	// Unchanged: all tracked attributes match the current row.
	Unchanged Outcome = "UNCHANGED"
	// Changed: at least one tracked attribute differs from the current row.
	Changed Outcome = "CHANGED"
	// Missing: the key has a current row but is absent from the snapshot.
	Missing Outcome = "MISSING"
)

// ClassifiedRow pairs a natural key with its outcome. Incoming carries the
// snapshot record for UNSEEN/UNCHANGED/CHANGED; it is nil for MISSING.
type ClassifiedRow struct {
	Key      record.Key
	Outcome  Outcome
	Incoming record.Record
	Current  *history.Row // current history row, nil for UNSEEN
}

// Result groups classified rows by outcome, each sorted by key for
// deterministic downstream iteration.
type Result struct {
	Rows []ClassifiedRow
}

// ByOutcome returns the classified rows with the given outcome.
func (r *Result) ByOutcome(o Outcome) []ClassifiedRow {
	var out []ClassifiedRow
	for _, c := range r.Rows {
		if c.Outcome == o {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns the number of keys per outcome.
func (r *Result) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, c := range r.Rows {
		counts[c.Outcome]++
	}
	return counts
}

// DuplicateKeyError reports duplicate natural keys reaching the differ.
// Duplicate resolution is a validation-layer responsibility; the differ
// refuses to pick an arbitrary row. Seeing this error means the ruleset
// is missing a BLOCKING duplicate rule.
type DuplicateKeyError struct {
	Table string
	Keys  []record.Key
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate natural keys reached the differ for table %q: %v", e.Table, e.Keys)
}

// Classify compares the accepted snapshot rows against the current history
// state. floatTol bounds the absolute difference tolerated between float
// attributes, to avoid spurious change detection from representation noise.
//
// The result lists every incoming key as UNSEEN, UNCHANGED, or CHANGED,
// followed by every current-set key absent from the snapshot as MISSING.
// Rows are sorted by key within each group.
func Classify(accepted []record.Record, hist *history.Table, floatTol float64) (*Result, error) {
	schema := hist.Schema()
	current := hist.CurrentRows()

	seen := make(map[record.Key]bool, len(accepted))
	var duplicates []record.Key
	incoming := make([]ClassifiedRow, 0, len(accepted))

	for i, rec := range accepted {
		key, err := record.KeyOf(schema, rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if seen[key] {
			duplicates = append(duplicates, key)
			continue
		}
		seen[key] = true

		cur, exists := current[key]
		switch {
		case !exists:
			incoming = append(incoming, ClassifiedRow{Key: key, Outcome: Unseen, Incoming: rec})
		case record.RecordsEqual(schema, rec, cur.Record, floatTol):
			curCopy := cur
			incoming = append(incoming, ClassifiedRow{Key: key, Outcome: Unchanged, Incoming: rec, Current: &curCopy})
		default:
			curCopy := cur
			incoming = append(incoming, ClassifiedRow{Key: key, Outcome: Changed, Incoming: rec, Current: &curCopy})
		}
	}

	if len(duplicates) > 0 {
		sort.Slice(duplicates, func(i, j int) bool { return duplicates[i] < duplicates[j] })
		return nil, &DuplicateKeyError{Table: schema.Table, Keys: duplicates}
	}

	var missing []ClassifiedRow
	for key, cur := range current {
		if !seen[key] {
			curCopy := cur
			missing = append(missing, ClassifiedRow{Key: key, Outcome: Missing, Current: &curCopy})
		}
	}

	sort.Slice(incoming, func(i, j int) bool { return incoming[i].Key < incoming[j].Key })
	sort.Slice(missing, func(i, j int) bool { return missing[i].Key < missing[j].Key })

	return &Result{Rows: append(incoming, missing...)}, nil
}
