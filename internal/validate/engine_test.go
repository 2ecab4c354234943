package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauam1/silverlake/internal/record"
)

func newEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	e, err := NewEngine(rules)
	require.NoError(t, err)
	return e
}

func TestValidatePassed(t *testing.T) {
	e := newEngine(t,
		NewDuplicateRule("unique-key", SeverityBlocking),
		NewRangeRule("sales-range", SeverityWarn, "sales", 0, 1000),
	)
	snap := snapshot(t, rec("West", 10, 1), rec("East", 20, 2))

	report, err := e.Validate(snap, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPassed, report.Verdict)
	assert.Len(t, report.Accepted, 2)
	assert.Empty(t, report.Quarantined)
}

func TestValidateBlockingFailureRejects(t *testing.T) {
	e := newEngine(t,
		NewDuplicateRule("unique-key", SeverityBlocking),
		NewRangeRule("sales-range", SeverityWarn, "sales", 0, 1000),
	)
	// Duplicate natural key with differing attributes.
	snap := snapshot(t, rec("West", 10, 1), rec("West", 99, 9))

	report, err := e.Validate(snap, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictRejected, report.Verdict)
	assert.Empty(t, report.Accepted, "rejected snapshots must not feed the merge")

	outcome, ok := report.Outcome("unique-key")
	require.True(t, ok)
	assert.False(t, outcome.Passed)
	assert.Len(t, outcome.Violations, 2)
}

func TestValidateWarnFailureQuarantines(t *testing.T) {
	e := newEngine(t,
		NewDuplicateRule("unique-key", SeverityBlocking),
		NewRangeRule("sales-range", SeverityWarn, "sales", 0, 100),
	)
	snap := snapshot(t, rec("West", 10, 1), rec("East", 5000, 2), rec("North", 20, 3))

	report, err := e.Validate(snap, nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictQuarantined, report.Verdict)
	require.Len(t, report.Accepted, 2)
	require.Len(t, report.Quarantined, 1)
	assert.Equal(t, []int{1}, report.QuarantinedIndexes)
	assert.Equal(t, record.String("East"), report.Quarantined[0]["region"])
}

func TestValidateDeterministicAcrossRuns(t *testing.T) {
	e := newEngine(t,
		NewDuplicateRule("unique-key", SeverityBlocking),
		NewRangeRule("b-range", SeverityWarn, "sales", 0, 100),
		NewNullRatioRule("a-nulls", SeverityWarn, "", 0),
		NewRangeRule("c-qty", SeverityWarn, "quantity", 0, 10),
	)
	snap := snapshot(t,
		rec("West", 500, 99),
		record.Record{"region": record.String("East"), "sales": record.Null{}, "quantity": record.Int(1)},
	)

	first, err := e.Validate(snap, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.Validate(snap, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Outcomes arrive sorted by rule id regardless of registration order.
	ids := make([]string, 0, len(first.Outcomes))
	for _, o := range first.Outcomes {
		ids = append(ids, o.RuleID)
	}
	assert.Equal(t, []string{"a-nulls", "b-range", "c-qty", "unique-key"}, ids)
}

func TestValidateSchemaMismatchAborts(t *testing.T) {
	e := newEngine(t, NewDuplicateRule("unique-key", SeverityBlocking))
	snap := snapshot(t, record.Record{"region": record.String("W"), "sales": record.String("lots")})

	_, err := e.Validate(snap, nil)
	var mismatch *record.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "sales", mismatch.Attribute)
}

func TestValidateEmptySnapshot(t *testing.T) {
	e := newEngine(t, NewDuplicateRule("unique-key", SeverityBlocking))
	report, err := e.Validate(snapshot(t), nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictPassed, report.Verdict)
	assert.Empty(t, report.Accepted)
}

func TestNewEngineRejectsDuplicateRuleIDs(t *testing.T) {
	_, err := NewEngine([]Rule{
		NewDuplicateRule("same", SeverityWarn),
		NewDuplicateRule("same", SeverityBlocking),
	})
	require.Error(t, err)
}

func TestRejectedError(t *testing.T) {
	report := &Report{
		Verdict: VerdictRejected,
		Outcomes: []RuleOutcome{
			{RuleID: "unique-key", Severity: SeverityBlocking, Passed: false},
			{RuleID: "range", Severity: SeverityWarn, Passed: false},
		},
	}
	err := &RejectedError{Report: report}
	assert.Contains(t, err.Error(), "unique-key")
	assert.NotContains(t, err.Error(), "range")
}
