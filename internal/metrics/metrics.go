// Package metrics computes KPI aggregates over merged historical tables:
// per-column totals, means, and extremes, plus cumulative and growth
// series in effective-time order.
//
// Aggregation is delta-aware: given a merge manifest, ComputeDelta
// restricts the report to the keys that run touched, so incremental
// refreshes never rescan the whole table.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
)

// ColumnStats aggregates one numeric column over the selected rows.
// Null values are excluded from every aggregate.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report is the KPI summary of one table at one point in time.
type Report struct {
	Table   string        `json:"table"`
	Rows    int           `json:"rows"`
	Columns []ColumnStats `json:"columns"`
}

// Point is one entry of a cumulative series: the column's value for one
// current row, with the running total and the growth ratio against the
// previous point.
type Point struct {
	Key           record.Key `json:"key"`
	EffectiveFrom time.Time  `json:"effective_from"`
	Value         float64    `json:"value"`
	Cumulative    float64    `json:"cumulative"`

	// Growth is (value-prev)/prev, nil for the first point and after a
	// zero-valued predecessor.
	Growth *float64 `json:"growth,omitempty"`
}

// Compute aggregates every numeric column over the table's current rows.
func Compute(table *history.Table) *Report {
	return compute(table, nil)
}

// ComputeDelta aggregates only the keys the manifest's run touched.
// A nil manifest behaves like Compute.
func ComputeDelta(table *history.Table, m *merge.Manifest) *Report {
	if m == nil {
		return Compute(table)
	}
	affected := make(map[record.Key]bool)
	for _, k := range m.AffectedKeys() {
		affected[k] = true
	}
	return compute(table, affected)
}

func compute(table *history.Table, keyFilter map[record.Key]bool) *Report {
	schema := table.Schema()
	rows := selectRows(table, keyFilter)

	report := &Report{
		Table: schema.Table,
		Rows:  len(rows),
	}

	for _, column := range numericColumns(schema) {
		stats := ColumnStats{Column: column}
		for _, row := range rows {
			v, ok := numericValue(row.Record[column])
			if !ok {
				continue
			}
			if stats.Count == 0 || v < stats.Min {
				stats.Min = v
			}
			if stats.Count == 0 || v > stats.Max {
				stats.Max = v
			}
			stats.Total += v
			stats.Count++
		}
		if stats.Count > 0 {
			stats.Mean = stats.Total / float64(stats.Count)
		}
		report.Columns = append(report.Columns, stats)
	}

	return report
}

// CumulativeSeries orders the current rows by effective timestamp (key as
// tiebreak) and computes the running total and point-to-point growth of
// one numeric column. Rows where the column is null are skipped.
func CumulativeSeries(table *history.Table, column string) ([]Point, error) {
	schema := table.Schema()
	t, ok := schema.AttributeType(column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", column)
	}
	if t != record.TypeInt && t != record.TypeFloat {
		return nil, fmt.Errorf("column %q is %s, not numeric", column, t)
	}

	rows := selectRows(table, nil)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].EffectiveFrom.Equal(rows[j].EffectiveFrom) {
			return rows[i].EffectiveFrom.Before(rows[j].EffectiveFrom)
		}
		return rows[i].Key < rows[j].Key
	})

	var (
		points  []Point
		running float64
		prev    *float64
	)
	for _, row := range rows {
		v, ok := numericValue(row.Record[column])
		if !ok {
			continue
		}
		running += v

		p := Point{
			Key:           row.Key,
			EffectiveFrom: row.EffectiveFrom,
			Value:         v,
			Cumulative:    running,
		}
		if prev != nil && *prev != 0 {
			g := (v - *prev) / *prev
			p.Growth = &g
		}
		value := v
		prev = &value
		points = append(points, p)
	}

	return points, nil
}

// selectRows returns the current rows, sorted by key, optionally filtered.
func selectRows(table *history.Table, keyFilter map[record.Key]bool) []history.Row {
	current := table.CurrentRows()
	keys := make([]record.Key, 0, len(current))
	for k := range current {
		if keyFilter != nil && !keyFilter[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]history.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, current[k])
	}
	return rows
}

// numericColumns returns the non-key int and float attributes in
// declaration order.
func numericColumns(s *record.Schema) []string {
	var columns []string
	for _, name := range s.TrackedAttributes() {
		t, _ := s.AttributeType(name)
		if t == record.TypeInt || t == record.TypeFloat {
			columns = append(columns, name)
		}
	}
	return columns
}

func numericValue(v record.Value) (float64, bool) {
	switch n := v.(type) {
	case record.Int:
		return float64(n), true
	case record.Float:
		return float64(n), true
	default:
		return 0, false
	}
}
