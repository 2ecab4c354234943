package validate

import (
	"fmt"
	"sort"

	"github.com/cauam1/silverlake/internal/record"
)

// Severity classifies the consequence of a rule failure.
type Severity string

const (
	// SeverityBlocking aborts the merge for the whole snapshot on failure.
	SeverityBlocking Severity = "BLOCKING"
	// SeverityWarn quarantines the offending rows; the rest proceeds.
	SeverityWarn Severity = "WARN"
)

// ValidSeverities defines the allowed severities.
var ValidSeverities = map[Severity]bool{
	SeverityBlocking: true,
	SeverityWarn:     true,
}

// Verdict is the overall outcome of validating one snapshot.
type Verdict string

const (
	// VerdictPassed means every rule passed; all rows proceed.
	VerdictPassed Verdict = "PASSED"
	// VerdictQuarantined means only WARN rules failed; flagged rows are
	// quarantined and the remainder proceeds.
	VerdictQuarantined Verdict = "QUARANTINED"
	// VerdictRejected means a BLOCKING rule failed; nothing proceeds.
	VerdictRejected Verdict = "REJECTED"
)

// Violation identifies one offending row (or the snapshot as a whole) for
// one rule.
type Violation struct {
	RuleID   string     `json:"rule_id"`
	Severity Severity   `json:"severity"`
	RowIndex int        `json:"row_index"` // -1 for snapshot-level violations
	Key      record.Key `json:"key,omitempty"`
	Message  string     `json:"message"`
}

// SnapshotLevel is the RowIndex of violations that concern the snapshot as
// a whole (e.g. a column's null ratio) rather than a single row.
const SnapshotLevel = -1

// RuleOutcome is the result of evaluating one rule.
type RuleOutcome struct {
	RuleID     string      `json:"rule_id"`
	Kind       string      `json:"kind"`
	Severity   Severity    `json:"severity"`
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Report is the structured result of validating one snapshot: per-rule
// outcomes, the overall verdict, and the accepted/quarantined partition of
// the snapshot's rows.
type Report struct {
	Verdict  Verdict       `json:"verdict"`
	Outcomes []RuleOutcome `json:"outcomes"`

	// Accepted are the rows that proceed to the differ. Empty when the
	// verdict is REJECTED.
	Accepted []record.Record `json:"-"`

	// Quarantined are the rows excluded by WARN failures, retained for
	// inspection. Indexed against the original snapshot order.
	Quarantined []record.Record `json:"-"`

	// QuarantinedIndexes are the original snapshot indexes of the
	// quarantined rows, sorted ascending.
	QuarantinedIndexes []int `json:"quarantined_indexes,omitempty"`
}

// Outcome returns the outcome for a rule id, if present.
func (r *Report) Outcome(ruleID string) (RuleOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.RuleID == ruleID {
			return o, true
		}
	}
	return RuleOutcome{}, false
}

// RejectedError is returned when a BLOCKING rule fails. The full report is
// attached for diagnostics; no state mutation has happened.
type RejectedError struct {
	Report *Report
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	failed := make([]string, 0)
	for _, o := range e.Report.Outcomes {
		if !o.Passed && o.Severity == SeverityBlocking {
			failed = append(failed, o.RuleID)
		}
	}
	sort.Strings(failed)
	return fmt.Sprintf("snapshot rejected by blocking rules %v", failed)
}
