package history

import (
	"fmt"
	"time"

	"github.com/cauam1/silverlake/internal/record"
)

// Builder derives a new Table value from a prior state. The prior table is
// never mutated: the builder copies its rows up front and applies closes
// and inserts to the copy. Build verifies the SCD2 invariants, so a merge
// either yields a valid new table or no table at all.
type Builder struct {
	table *Table
}

// NewBuilder starts a builder seeded with the prior table's rows.
func NewBuilder(prior *Table) *Builder {
	t := New(prior.schema)
	for _, r := range prior.rows {
		t.append(r)
	}
	return &Builder{table: t}
}

// Append inserts a new historical row.
func (b *Builder) Append(r Row) {
	b.table.append(r)
}

// CloseCurrent closes the current row for key at instant ts: sets its end
// timestamp and clears the current flag. Returns the closed row.
func (b *Builder) CloseCurrent(key record.Key, ts time.Time) (Row, error) {
	return b.close(key, ts, false)
}

// RetireCurrent closes the current row for key as a retirement: the entity
// disappeared from the source and no successor row is inserted.
func (b *Builder) RetireCurrent(key record.Key, ts time.Time) (Row, error) {
	return b.close(key, ts, true)
}

func (b *Builder) close(key record.Key, ts time.Time, retired bool) (Row, error) {
	for _, i := range b.table.byKey[key] {
		if b.table.rows[i].IsCurrent {
			r := b.table.rows[i]
			r.EffectiveTo = ts
			r.IsCurrent = false
			r.Retired = retired
			b.table.rows[i] = r
			return r, nil
		}
	}
	return Row{}, fmt.Errorf("no current row for key %s", key)
}

// Build finalizes the new table, verifying invariants.
func (b *Builder) Build() (*Table, error) {
	if err := b.table.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("merge produced an invalid table: %w", err)
	}
	return b.table, nil
}
