package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/pipeline"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/testutil"
	"github.com/cauam1/silverlake/internal/validate"
)

// transformVersion is the fixed version stamp scenario runs carry.
const transformVersion = "harness"

// StepResult is the outcome of merging one scenario snapshot.
type StepResult struct {
	BatchID  string
	Verdict  validate.Verdict
	Manifest *merge.Manifest
	Err      string
}

// Result holds the full scenario outcome.
type Result struct {
	Scenario *Scenario
	Steps    []StepResult
	Final    *history.Table

	// Errors are expectation mismatches. Empty means the scenario passed.
	Errors []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Errors) == 0 }

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh empty table. Batch ids are the fixed
// sequence batch-001, batch-002, ... and the clock is frozen, so repeated
// runs produce identical output.
func Run(scenario *Scenario) (*Result, error) {
	schema, err := scenario.Schema()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	rules, err := validate.FromDescriptors(scenario.Rules)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	engine, err := validate.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	opts := merge.Options{
		Retirement: merge.RetirementPolicy(scenario.Merge.Retirement),
		OutOfOrder: merge.OutOfOrderPolicy(scenario.Merge.OutOfOrder),
		Revert:     merge.RevertPolicy(scenario.Merge.Revert),
		FloatTol:   scenario.Merge.FloatTolerance,
	}

	ids := make([]string, len(scenario.Snapshots))
	for i := range ids {
		ids[i] = fmt.Sprintf("batch-%03d", i+1)
	}
	clock := testutil.NewFixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	p, err := pipeline.New(engine, opts, transformVersion,
		pipeline.WithBatchIDGenerator(testutil.NewFixedBatchGenerator(ids...)),
		pipeline.WithClock(clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := &Result{
		Scenario: scenario,
		Final:    history.New(schema),
	}

	for i, snap := range scenario.Snapshots {
		step := StepResult{BatchID: ids[i]}

		records, err := buildRecords(schema, snap.Records)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: snapshots[%d]: %w", scenario.Name, i, err)
		}

		runResult, err := p.Run(&record.Snapshot{Schema: schema, Records: records}, result.Final, snap.AsOf)
		if err != nil {
			// A failed run leaves the table untouched.
			step.Err = err.Error()
		} else {
			step.Verdict = runResult.Report.Verdict
			step.Manifest = runResult.Manifest
			result.Final = runResult.Table
		}

		result.Steps = append(result.Steps, step)
	}

	evaluateExpectations(result)
	return result, nil
}

// buildRecords converts raw YAML maps to typed records. Attributes absent
// from a map come back as Null.
func buildRecords(schema *record.Schema, raw []map[string]any) ([]record.Record, error) {
	records := make([]record.Record, 0, len(raw))
	for i, m := range raw {
		rec := make(record.Record, len(schema.Attributes))
		for name, v := range m {
			t, ok := schema.AttributeType(name)
			if !ok {
				return nil, fmt.Errorf("records[%d]: undeclared attribute %q", i, name)
			}
			value, err := record.CoerceValue(t, v)
			if err != nil {
				return nil, fmt.Errorf("records[%d]: attribute %q: %w", i, name, err)
			}
			rec[name] = value
		}
		for _, a := range schema.Attributes {
			if _, ok := rec[a.Name]; !ok {
				rec[a.Name] = record.Null{}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// evaluateExpectations checks every expect clause against its step.
func evaluateExpectations(result *Result) {
	for i, expect := range result.Scenario.Expect {
		step := result.Steps[i]

		if expect.Error != "" {
			if step.Err == "" {
				result.Errors = append(result.Errors,
					fmt.Sprintf("step %d: expected error containing %q, run succeeded", i+1, expect.Error))
			} else if !strings.Contains(step.Err, expect.Error) {
				result.Errors = append(result.Errors,
					fmt.Sprintf("step %d: error %q does not contain %q", i+1, step.Err, expect.Error))
			}
			continue
		}

		if step.Err != "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("step %d: unexpected error: %s", i+1, step.Err))
			continue
		}

		if expect.Verdict != "" && string(step.Verdict) != expect.Verdict {
			result.Errors = append(result.Errors,
				fmt.Sprintf("step %d: verdict %s, expected %s", i+1, step.Verdict, expect.Verdict))
		}

		counts := step.Manifest.Counts()
		for category, want := range expect.Counts {
			got, ok := counts[category]
			if !ok {
				result.Errors = append(result.Errors,
					fmt.Sprintf("step %d: unknown count category %q", i+1, category))
				continue
			}
			if got != want {
				result.Errors = append(result.Errors,
					fmt.Sprintf("step %d: %s count %d, expected %d", i+1, category, got, want))
			}
		}
	}
}
