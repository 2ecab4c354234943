package validate

import (
	"fmt"
	"math"
	"sort"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// Rule is one independent data quality check. Evaluate must be
// side-effect-free: rules may run concurrently and in any order.
type Rule interface {
	ID() string
	Kind() string
	Severity() Severity

	// Evaluate returns the rule's violations against the snapshot.
	// hist is the current history state, for rules that baseline against
	// it; it may be nil. An empty slice means the rule passed.
	Evaluate(snap *record.Snapshot, hist *history.Table) ([]Violation, error)
}

// baseRule carries the identity fields shared by all rule kinds.
type baseRule struct {
	id       string
	kind     string
	severity Severity
}

func (b baseRule) ID() string         { return b.id }
func (b baseRule) Kind() string       { return b.kind }
func (b baseRule) Severity() Severity { return b.severity }

// keyOrEmpty computes a record's natural key for violation reporting.
// Key computation failures are reported as empty keys, not errors: a row
// with a broken key is exactly the kind of row violations should flag.
func keyOrEmpty(s *record.Schema, r record.Record) record.Key {
	k, err := record.KeyOf(s, r)
	if err != nil {
		return ""
	}
	return k
}

// NullRatioRule fails when a column's null ratio exceeds MaxRatio.
// Column == "" checks every attribute. On failure it emits one
// snapshot-level violation per offending column plus one violation per
// null row in those columns, so WARN severity quarantines the null rows.
type NullRatioRule struct {
	baseRule
	Column   string
	MaxRatio float64
}

// NewNullRatioRule constructs a null-ratio rule.
func NewNullRatioRule(id string, severity Severity, column string, maxRatio float64) *NullRatioRule {
	return &NullRatioRule{
		baseRule: baseRule{id: id, kind: KindNullRatio, severity: severity},
		Column:   column,
		MaxRatio: maxRatio,
	}
}

// Evaluate implements Rule.
func (r *NullRatioRule) Evaluate(snap *record.Snapshot, _ *history.Table) ([]Violation, error) {
	if snap.Len() == 0 {
		return nil, nil
	}

	columns := make([]string, 0, len(snap.Schema.Attributes))
	if r.Column != "" {
		if _, ok := snap.Schema.AttributeType(r.Column); !ok {
			return nil, fmt.Errorf("rule %s: unknown column %q", r.id, r.Column)
		}
		columns = append(columns, r.Column)
	} else {
		for _, a := range snap.Schema.Attributes {
			columns = append(columns, a.Name)
		}
	}

	var violations []Violation
	for _, col := range columns {
		var nullRows []int
		for i, rec := range snap.Records {
			v, ok := rec[col]
			if !ok {
				nullRows = append(nullRows, i)
				continue
			}
			if _, isNull := v.(record.Null); isNull {
				nullRows = append(nullRows, i)
			}
		}
		ratio := float64(len(nullRows)) / float64(snap.Len())
		if ratio <= r.MaxRatio {
			continue
		}
		violations = append(violations, Violation{
			RuleID:   r.id,
			Severity: r.severity,
			RowIndex: SnapshotLevel,
			Message:  fmt.Sprintf("column %q null ratio %.4f exceeds %.4f", col, ratio, r.MaxRatio),
		})
		for _, i := range nullRows {
			violations = append(violations, Violation{
				RuleID:   r.id,
				Severity: r.severity,
				RowIndex: i,
				Key:      keyOrEmpty(snap.Schema, snap.Records[i]),
				Message:  fmt.Sprintf("null value in column %q", col),
			})
		}
	}
	return violations, nil
}

// DuplicateRule fails when the snapshot contains the same natural key more
// than once. Duplicates are a validation-layer responsibility; the differ
// refuses to resolve them.
type DuplicateRule struct {
	baseRule
}

// NewDuplicateRule constructs a natural-key uniqueness rule.
func NewDuplicateRule(id string, severity Severity) *DuplicateRule {
	return &DuplicateRule{baseRule{id: id, kind: KindDuplicate, severity: severity}}
}

// Evaluate implements Rule.
func (r *DuplicateRule) Evaluate(snap *record.Snapshot, _ *history.Table) ([]Violation, error) {
	indexesByKey := make(map[record.Key][]int, snap.Len())
	for i, rec := range snap.Records {
		k, err := record.KeyOf(snap.Schema, rec)
		if err != nil {
			return nil, fmt.Errorf("rule %s: row %d: %w", r.id, i, err)
		}
		indexesByKey[k] = append(indexesByKey[k], i)
	}

	var violations []Violation
	for k, idxs := range indexesByKey {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			violations = append(violations, Violation{
				RuleID:   r.id,
				Severity: r.severity,
				RowIndex: i,
				Key:      k,
				Message:  fmt.Sprintf("natural key %s appears %d times", k, len(idxs)),
			})
		}
	}
	return violations, nil
}

// RangeRule fails rows whose numeric column falls outside [Min, Max].
// Null values are skipped; the null-ratio rule owns those.
type RangeRule struct {
	baseRule
	Column string
	Min    float64
	Max    float64
}

// NewRangeRule constructs a numeric range rule.
func NewRangeRule(id string, severity Severity, column string, min, max float64) *RangeRule {
	return &RangeRule{
		baseRule: baseRule{id: id, kind: KindRange, severity: severity},
		Column:   column,
		Min:      min,
		Max:      max,
	}
}

// Evaluate implements Rule.
func (r *RangeRule) Evaluate(snap *record.Snapshot, _ *history.Table) ([]Violation, error) {
	typ, ok := snap.Schema.AttributeType(r.Column)
	if !ok {
		return nil, fmt.Errorf("rule %s: unknown column %q", r.id, r.Column)
	}
	if typ != record.TypeInt && typ != record.TypeFloat {
		return nil, fmt.Errorf("rule %s: column %q is %s, range checks need int or float", r.id, r.Column, typ)
	}

	var violations []Violation
	for i, rec := range snap.Records {
		f, ok := numericValue(rec[r.Column])
		if !ok {
			continue
		}
		if f < r.Min || f > r.Max {
			violations = append(violations, Violation{
				RuleID:   r.id,
				Severity: r.severity,
				RowIndex: i,
				Key:      keyOrEmpty(snap.Schema, rec),
				Message:  fmt.Sprintf("column %q value %v outside [%v, %v]", r.Column, f, r.Min, r.Max),
			})
		}
	}
	return violations, nil
}

// AnomalyRule flags rows whose numeric column deviates from the mean by
// more than MaxZScore standard deviations.
//
// The baseline window is the current history rows' values for the column
// when at least MinSamples of them exist; otherwise the snapshot itself is
// the window. A degenerate window (zero standard deviation) passes
// everything.
type AnomalyRule struct {
	baseRule
	Column     string
	MaxZScore  float64
	MinSamples int
}

// NewAnomalyRule constructs a z-score outlier rule.
func NewAnomalyRule(id string, severity Severity, column string, maxZScore float64, minSamples int) *AnomalyRule {
	if minSamples <= 0 {
		minSamples = defaultAnomalyMinSamples
	}
	return &AnomalyRule{
		baseRule:   baseRule{id: id, kind: KindAnomaly, severity: severity},
		Column:     column,
		MaxZScore:  maxZScore,
		MinSamples: minSamples,
	}
}

const defaultAnomalyMinSamples = 10

// Evaluate implements Rule.
func (r *AnomalyRule) Evaluate(snap *record.Snapshot, hist *history.Table) ([]Violation, error) {
	typ, ok := snap.Schema.AttributeType(r.Column)
	if !ok {
		return nil, fmt.Errorf("rule %s: unknown column %q", r.id, r.Column)
	}
	if typ != record.TypeInt && typ != record.TypeFloat {
		return nil, fmt.Errorf("rule %s: column %q is %s, anomaly checks need int or float", r.id, r.Column, typ)
	}

	window := r.historyWindow(hist)
	if len(window) < r.MinSamples {
		window = window[:0]
		for _, rec := range snap.Records {
			if f, ok := numericValue(rec[r.Column]); ok {
				window = append(window, f)
			}
		}
	}
	if len(window) < 2 {
		return nil, nil
	}

	mean, stddev := meanStddev(window)
	if stddev == 0 {
		return nil, nil
	}

	var violations []Violation
	for i, rec := range snap.Records {
		f, ok := numericValue(rec[r.Column])
		if !ok {
			continue
		}
		z := math.Abs(f-mean) / stddev
		if z > r.MaxZScore {
			violations = append(violations, Violation{
				RuleID:   r.id,
				Severity: r.severity,
				RowIndex: i,
				Key:      keyOrEmpty(snap.Schema, rec),
				Message:  fmt.Sprintf("column %q value %v has z-score %.2f, limit %.2f", r.Column, f, z, r.MaxZScore),
			})
		}
	}
	return violations, nil
}

// historyWindow collects the column's values from the current history rows
// in deterministic (sorted key) order.
func (r *AnomalyRule) historyWindow(hist *history.Table) []float64 {
	if hist == nil {
		return nil
	}
	current := hist.CurrentRows()
	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var window []float64
	for _, k := range keys {
		if f, ok := numericValue(current[record.Key(k)].Record[r.Column]); ok {
			window = append(window, f)
		}
	}
	return window
}

// CustomRule wraps a caller-supplied check function.
type CustomRule struct {
	baseRule
	check func(snap *record.Snapshot, hist *history.Table) ([]Violation, error)
}

// NewCustomRule constructs a rule from an arbitrary check function. The
// function must be side-effect-free; violations it returns are re-stamped
// with the rule's id and severity.
func NewCustomRule(id string, severity Severity, check func(*record.Snapshot, *history.Table) ([]Violation, error)) *CustomRule {
	return &CustomRule{
		baseRule: baseRule{id: id, kind: KindCustom, severity: severity},
		check:    check,
	}
}

// Evaluate implements Rule.
func (r *CustomRule) Evaluate(snap *record.Snapshot, hist *history.Table) ([]Violation, error) {
	violations, err := r.check(snap, hist)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.id, err)
	}
	for i := range violations {
		violations[i].RuleID = r.id
		violations[i].Severity = r.severity
	}
	return violations, nil
}

// numericValue extracts a float from an Int or Float value.
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

// meanStddev computes the mean and population standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
