// Package store provides SQLite-backed durable storage for historical
// tables, merge manifests, and audit events.
//
// The store persists:
//   - History Rows: every SCD2 version of every entity, with lineage
//   - Manifests: the change record of each merge run, keyed by batch id
//   - Audit Events: the structured event trail of pipeline runs
//
// # Critical Patterns
//
// Row identity is (table_name, key, version), NOT the surrogate key: the
// REUSE_SURROGATE revert policy deliberately assigns one surrogate to two
// versions, so surrogate keys are not unique in storage.
//
// Saving a run is atomic: the full row set and the manifest commit in one
// transaction, or none do. Re-saving the same run is idempotent via
// ON CONFLICT clauses, so a crashed run can be replayed safely.
//
// All table reads use deterministic ordering (ORDER BY key COLLATE BINARY
// ASC, version ASC) so a loaded table round-trips exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Records are serialized with internal/record's canonical JSON, so the
// stored text of a record is byte-stable across runs.
package store
