package merge

import (
	"time"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// Entry identifies one affected row: the natural key, the surrogate key of
// the row touched, and its version. RevertOf is set when a revert reused a
// prior version's identity.
type Entry struct {
	Key          record.Key `json:"key"`
	SurrogateKey string     `json:"surrogate_key"`
	Version      int        `json:"version"`
	RevertOf     string     `json:"revert_of,omitempty"`
}

// Manifest is the change record of one merge run: which keys were
// classified how, and which surrogate keys were touched. Downstream
// aggregation stages use it to recompute only the affected delta.
type Manifest struct {
	BatchID string    `json:"batch_id,omitempty"`
	AsOf    time.Time `json:"as_of"`

	// Inserted are the new versions created for UNSEEN keys.
	Inserted []Entry `json:"inserted,omitempty"`
	// Updated are the new versions created for CHANGED keys. Every entry
	// here has a counterpart in Closed.
	Updated []Entry `json:"updated,omitempty"`
	// Closed are the superseded versions end-dated this run.
	Closed []Entry `json:"closed,omitempty"`
	// Retired are the versions closed because their key left the source.
	Retired []Entry `json:"retired,omitempty"`
	// Unchanged keys were passed through untouched.
	Unchanged []record.Key `json:"unchanged,omitempty"`
	// Quarantined keys were excluded by WARN validation failures.
	Quarantined []record.Key `json:"quarantined,omitempty"`
	// Excluded keys were skipped for out-of-order timestamps under the
	// EXCLUDE policy.
	Excluded []record.Key `json:"excluded,omitempty"`
}

// Counts summarizes the manifest for logging.
func (m *Manifest) Counts() map[string]int {
	return map[string]int{
		"inserted":    len(m.Inserted),
		"updated":     len(m.Updated),
		"closed":      len(m.Closed),
		"retired":     len(m.Retired),
		"unchanged":   len(m.Unchanged),
		"quarantined": len(m.Quarantined),
		"excluded":    len(m.Excluded),
	}
}

// AffectedSurrogates returns the surrogate keys of every row this run
// created or closed, deduplicated.
func (m *Manifest) AffectedSurrogates() []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]Entry{m.Inserted, m.Updated, m.Closed, m.Retired} {
		for _, e := range group {
			if !seen[e.SurrogateKey] {
				seen[e.SurrogateKey] = true
				out = append(out, e.SurrogateKey)
			}
		}
	}
	return out
}

// AffectedVersions returns the (key, version) identity of every row this
// run created or closed, deduplicated. Surrogate keys cannot serve as the
// identity here: under REUSE_SURROGATE a revert row shares its surrogate
// with the prior closed version it reverts to.
func (m *Manifest) AffectedVersions() []history.VersionRef {
	seen := make(map[history.VersionRef]bool)
	var out []history.VersionRef
	for _, group := range [][]Entry{m.Inserted, m.Updated, m.Closed, m.Retired} {
		for _, e := range group {
			ref := history.VersionRef{Key: e.Key, Version: e.Version}
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

// AffectedKeys returns the natural keys of inserted, updated, and retired
// rows, deduplicated, for delta-aware downstream aggregation.
func (m *Manifest) AffectedKeys() []record.Key {
	seen := make(map[record.Key]bool)
	var out []record.Key
	for _, group := range [][]Entry{m.Inserted, m.Updated, m.Retired} {
		for _, e := range group {
			if !seen[e.Key] {
				seen[e.Key] = true
				out = append(out, e.Key)
			}
		}
	}
	return out
}
