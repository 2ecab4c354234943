// Package harness provides a conformance testing framework for the merge
// pipeline.
//
// Scenarios are YAML files describing a table, its ruleset, and a sequence
// of snapshots with expected outcomes. The harness executes the sequence
// through the real pipeline with deterministic batch ids and clocks, so
// two runs of the same scenario produce identical manifests and final
// state.
//
// Golden files capture the full run output (step verdicts, manifest
// counts, final rows) as canonical JSON under testdata/golden. Regenerate
// with:
//
//	go test ./internal/harness -update
package harness
