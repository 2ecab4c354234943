package validate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// Engine evaluates a fixed set of rules against snapshots.
//
// Rules are evaluated concurrently (they are read-only over the snapshot
// and share no state), and results are combined deterministically: outcomes
// sorted by rule id, violations by row index. Validating the same snapshot
// twice yields an identical Report.
type Engine struct {
	rules []Rule
}

// NewEngine creates a validation engine. The rules slice is copied to
// prevent external mutation; rule ids must be unique.
func NewEngine(rules []Rule) (*Engine, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID() == "" {
			return nil, fmt.Errorf("rule with empty id")
		}
		if seen[r.ID()] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID())
		}
		seen[r.ID()] = true
	}
	rulesCopy := make([]Rule, len(rules))
	copy(rulesCopy, rules)
	return &Engine{rules: rulesCopy}, nil
}

// Rules returns the engine's rules in registration order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Validate runs every rule against the snapshot and partitions its rows.
//
// The snapshot's records are first checked against the schema; a type
// disagreement is a SchemaMismatchError and aborts the run before any rule
// fires. Rule evaluation errors (misconfigured column, broken key) also
// abort: they are engine failures, not data quality findings.
//
// The returned Report carries the verdict:
//   - REJECTED: a BLOCKING rule failed. Accepted is empty; the caller must
//     not run the differ or merge against this snapshot.
//   - QUARANTINED: only WARN rules failed. Rows they flagged are in
//     Quarantined, the rest in Accepted.
//   - PASSED: all rules passed; every row is in Accepted.
func (e *Engine) Validate(snap *record.Snapshot, hist *history.Table) (*Report, error) {
	if err := snap.CheckSchema(); err != nil {
		return nil, err
	}

	outcomes := make([]RuleOutcome, len(e.rules))
	errs := make([]error, len(e.rules))

	var wg sync.WaitGroup
	for i, rule := range e.rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			violations, err := rule.Evaluate(snap, hist)
			if err != nil {
				errs[i] = err
				return
			}
			sortViolations(violations)
			outcomes[i] = RuleOutcome{
				RuleID:     rule.ID(),
				Kind:       rule.Kind(),
				Severity:   rule.Severity(),
				Passed:     len(violations) == 0,
				Violations: violations,
			}
		}(i, rule)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].RuleID < outcomes[j].RuleID })

	report := &Report{Outcomes: outcomes}
	blocked := false
	flagged := make(map[int]bool)
	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		if o.Severity == SeverityBlocking {
			blocked = true
			continue
		}
		for _, v := range o.Violations {
			if v.RowIndex != SnapshotLevel {
				flagged[v.RowIndex] = true
			}
		}
	}

	switch {
	case blocked:
		report.Verdict = VerdictRejected
	case len(flagged) > 0:
		report.Verdict = VerdictQuarantined
	default:
		report.Verdict = VerdictPassed
	}

	if report.Verdict == VerdictRejected {
		return report, nil
	}

	for i, rec := range snap.Records {
		if flagged[i] {
			report.Quarantined = append(report.Quarantined, rec)
			report.QuarantinedIndexes = append(report.QuarantinedIndexes, i)
		} else {
			report.Accepted = append(report.Accepted, rec)
		}
	}
	return report, nil
}

// sortViolations orders violations deterministically: snapshot-level
// first, then by row index, then by message.
func sortViolations(vs []Violation) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].RowIndex != vs[j].RowIndex {
			return vs[i].RowIndex < vs[j].RowIndex
		}
		return vs[i].Message < vs[j].Message
	})
}
