// Package merge implements the SCD Type 2 merge engine.
//
// The engine consumes the differ's classification and applies the
// versioning policy: UNSEEN keys get a new version 1 row, CHANGED keys get
// their current version closed and a successor inserted in one logical
// step, UNCHANGED keys pass through untouched, and MISSING keys are
// retired or ignored per policy.
//
// The merge is whole-or-nothing: it computes the next table as a value
// from the prior state and either returns a table that satisfies every
// SCD2 invariant or returns an error with the prior state untouched. The
// per-key close+insert pair is applied to the builder back to back, so no
// observable table state ever has zero or two current versions for a
// changed key.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cauam1/silverlake/internal/diff"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// OutOfOrderSnapshotError reports keys whose current version's
// effective_from is not strictly before the snapshot timestamp. Replayed
// or out-of-order snapshots are rejected, never merged into overlapping
// intervals.
type OutOfOrderSnapshotError struct {
	AsOf time.Time
	Keys []record.Key
	// Excluded reports whether the merge proceeded without the offending
	// keys (EXCLUDE policy) or aborted entirely (ABORT policy).
	Excluded bool
}

// Error implements the error interface.
func (e *OutOfOrderSnapshotError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = string(k)
	}
	verb := "aborted"
	if e.Excluded {
		verb = "excluded from merge"
	}
	return fmt.Sprintf("snapshot at %s is not after effective_from for keys [%s]: %s",
		e.AsOf.Format(time.RFC3339), strings.Join(keys, ", "), verb)
}

// Merge applies the SCD2 policy to the classified rows against the prior
// table and returns the next table plus the run's change manifest.
//
// asOf must be strictly greater than the effective_from of every row the
// run would close. Violations are handled per opts.OutOfOrder: ABORT
// returns (nil, nil, *OutOfOrderSnapshotError) with the prior table
// untouched; EXCLUDE merges the remaining keys and returns the new table
// alongside an *OutOfOrderSnapshotError with Excluded set, so the caller
// can surface the skipped keys.
func Merge(classified *diff.Result, prior *history.Table, asOf time.Time, opts Options) (*history.Table, *Manifest, error) {
	opts = opts.Defaults()
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if asOf.IsZero() {
		return nil, nil, fmt.Errorf("merge: asOf timestamp is required")
	}

	schema := prior.Schema()

	// Timestamp discipline first: collect every key whose close would
	// produce an overlapping interval, before mutating anything.
	var offending []record.Key
	for _, c := range classified.Rows {
		switch {
		case c.Outcome == diff.Changed,
			c.Outcome == diff.Missing && opts.Retirement == SoftRetire:
			if !asOf.After(c.Current.EffectiveFrom) {
				offending = append(offending, c.Key)
			}
		case c.Outcome == diff.Unseen:
			// A reappearing retired key may not resume before its
			// retirement instant.
			if last := lastVersion(prior, c.Key); last != nil && asOf.Before(last.EffectiveTo) {
				offending = append(offending, c.Key)
			}
		}
	}
	if len(offending) > 0 && opts.OutOfOrder == AbortRun {
		sortKeys(offending)
		return nil, nil, &OutOfOrderSnapshotError{AsOf: asOf, Keys: offending}
	}
	excluded := make(map[record.Key]bool, len(offending))
	for _, k := range offending {
		excluded[k] = true
	}

	b := history.NewBuilder(prior)
	manifest := &Manifest{AsOf: asOf}

	for _, c := range classified.Rows {
		if excluded[c.Key] {
			manifest.Excluded = append(manifest.Excluded, c.Key)
			continue
		}

		switch c.Outcome {
		case diff.Unseen:
			entry, err := insertVersion(b, schema, prior, c.Key, c.Incoming, asOf, opts)
			if err != nil {
				return nil, nil, err
			}
			manifest.Inserted = append(manifest.Inserted, entry)

		case diff.Changed:
			closed, err := b.CloseCurrent(c.Key, asOf)
			if err != nil {
				return nil, nil, err
			}
			manifest.Closed = append(manifest.Closed, Entry{
				Key: c.Key, SurrogateKey: closed.SurrogateKey, Version: closed.Version,
			})
			entry, err := insertVersion(b, schema, prior, c.Key, c.Incoming, asOf, opts)
			if err != nil {
				return nil, nil, err
			}
			manifest.Updated = append(manifest.Updated, entry)

		case diff.Unchanged:
			manifest.Unchanged = append(manifest.Unchanged, c.Key)

		case diff.Missing:
			if opts.Retirement == IgnoreMissing {
				continue
			}
			retired, err := b.RetireCurrent(c.Key, asOf)
			if err != nil {
				return nil, nil, err
			}
			manifest.Retired = append(manifest.Retired, Entry{
				Key: c.Key, SurrogateKey: retired.SurrogateKey, Version: retired.Version,
			})

		default:
			return nil, nil, fmt.Errorf("merge: unknown classification %q for key %s", c.Outcome, c.Key)
		}
	}

	next, err := b.Build()
	if err != nil {
		return nil, nil, err
	}

	if len(offending) > 0 {
		sortKeys(manifest.Excluded)
		return next, manifest, &OutOfOrderSnapshotError{AsOf: asOf, Keys: manifest.Excluded, Excluded: true}
	}
	return next, manifest, nil
}

// insertVersion appends the next version row for key, handling revert
// identity per policy.
func insertVersion(b *history.Builder, schema *record.Schema, prior *history.Table, key record.Key, rec record.Record, asOf time.Time, opts Options) (Entry, error) {
	version := prior.MaxVersion(key) + 1

	surrogate, err := record.SurrogateKey(schema.Table, key, version)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Key: key, Version: version}
	if reverted, ok := findRevert(schema, prior, key, rec, opts.FloatTol); ok {
		if opts.Revert == RevertReuseSurrogate {
			surrogate = reverted.SurrogateKey
		}
		entry.RevertOf = reverted.SurrogateKey
	}
	entry.SurrogateKey = surrogate

	b.Append(history.Row{
		Key:           key,
		Record:        rec.Clone(),
		SurrogateKey:  surrogate,
		Version:       version,
		EffectiveFrom: asOf,
		IsCurrent:     true,
	})
	return entry, nil
}

// findRevert looks for a prior, now-closed version of key whose tracked
// attributes exactly match the incoming record. The most recent match
// wins.
func findRevert(schema *record.Schema, prior *history.Table, key record.Key, rec record.Record, floatTol float64) (history.Row, bool) {
	versions := prior.VersionsOf(key)
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.IsCurrent {
			continue
		}
		if record.RecordsEqual(schema, v.Record, rec, floatTol) {
			return v, true
		}
	}
	return history.Row{}, false
}

// lastVersion returns the highest-numbered version of key, or nil if the
// key has never been seen.
func lastVersion(prior *history.Table, key record.Key) *history.Row {
	versions := prior.VersionsOf(key)
	if len(versions) == 0 {
		return nil
	}
	last := versions[len(versions)-1]
	return &last
}

func sortKeys(keys []record.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
