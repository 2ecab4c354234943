package harness

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/cauam1/silverlake/internal/record"
)

// RunSnapshot captures the complete output of a scenario execution for
// golden comparison: per-step verdicts and manifest counts plus the final
// table state.
//
// Surrogate keys and lineage stamps are deliberately excluded: they are
// covered by invariant checks, and leaving them out keeps goldens readable
// and stable across hash domain changes.
type RunSnapshot struct {
	ScenarioName string
	Steps        []StepResult
	Final        []map[string]any
}

// toCanonicalMap converts the snapshot to a plain map tree for canonical
// JSON serialization.
func (s *RunSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		stepMap := map[string]any{
			"batch_id": step.BatchID,
		}
		if step.Err != "" {
			stepMap["error"] = step.Err
		} else {
			stepMap["verdict"] = string(step.Verdict)
			counts := map[string]any{}
			for k, v := range step.Manifest.Counts() {
				counts[k] = v
			}
			stepMap["counts"] = counts
		}
		steps[i] = stepMap
	}

	finalRows := make([]any, len(s.Final))
	for i, row := range s.Final {
		finalRows[i] = row
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"final_rows":    finalRows,
	}
}

// RunWithGolden executes a scenario, fails the test on any expectation
// mismatch, and compares the full run output against its golden file in
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	snapshot := RunSnapshot{
		ScenarioName: scenario.Name,
		Steps:        result.Steps,
		Final:        finalRows(result),
	}

	runJSON, err := record.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, runJSON)

	return nil
}

// finalRows renders the final table in deterministic order: keys sorted,
// versions ascending.
func finalRows(result *Result) []map[string]any {
	var rows []map[string]any
	for _, key := range result.Final.Keys() {
		for _, row := range result.Final.VersionsOf(key) {
			m := map[string]any{
				"key":            string(row.Key),
				"version":        row.Version,
				"record":         row.Record,
				"effective_from": row.EffectiveFrom.UTC().Format(time.RFC3339Nano),
				"is_current":     row.IsCurrent,
				"retired":        row.Retired,
			}
			if row.Open() {
				m["effective_to"] = nil
			} else {
				m["effective_to"] = row.EffectiveTo.UTC().Format(time.RFC3339Nano)
			}
			rows = append(rows, m)
		}
	}
	return rows
}
