// Package validate implements the rule-based data quality gate that runs
// ahead of every merge.
//
// Rules are independent, side-effect-free checks over a snapshot. Each rule
// declares a severity: BLOCKING failures reject the whole snapshot and the
// merge never runs; WARN failures route the offending rows to a quarantine
// set while the rest of the snapshot proceeds. Quarantined rows are always
// reported, never silently dropped.
//
// Rule kinds are dispatched by descriptor tag rather than inheritance:
//
//   - null-ratio: per-column null ratio against a threshold
//   - duplicate: natural-key uniqueness within the snapshot
//   - range: numeric bounds per column
//   - anomaly: z-score outlier detection per column, baselined against the
//     current history window when it is large enough
//   - custom: caller-supplied check function
//
// # Determinism
//
// The engine evaluates rules concurrently; each rule is read-only with
// respect to the snapshot and shares no state with other rules. Results are
// combined order-independently (outcomes sorted by rule id, violations by
// row index), so repeated validation of the same snapshot yields an
// identical Report byte for byte.
package validate
