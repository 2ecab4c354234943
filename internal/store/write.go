package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cauam1/silverlake/internal/audit"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
)

// SaveRun atomically persists the table state and the run's manifest in a
// single transaction. Either everything commits or nothing does - a crash
// mid-save never leaves the stored table ahead of its manifest.
//
// Idempotent: rows upsert on (table_name, key, version) and the manifest
// inserts with ON CONFLICT(batch_id) DO NOTHING, so replaying a run after
// a crash is safe.
func (s *Store) SaveRun(ctx context.Context, table *history.Table, manifest *merge.Manifest) error {
	if manifest.BatchID == "" {
		return fmt.Errorf("save run: manifest has no batch id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := saveRows(ctx, tx, table); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	manifestJSON, err := marshalManifest(manifest)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO manifests
		(batch_id, table_name, as_of, manifest, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO NOTHING
	`,
		manifest.BatchID,
		table.Schema().Table,
		formatTime(manifest.AsOf),
		manifestJSON,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save run: write manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit: %w", err)
	}

	return nil
}

// SaveTable persists the table state without a manifest, for seeding and
// for tests. Uses the same upsert semantics as SaveRun.
func (s *Store) SaveTable(ctx context.Context, table *history.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save table: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveRows(ctx, tx, table); err != nil {
		return fmt.Errorf("save table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save table: commit: %w", err)
	}

	return nil
}

// saveRows upserts every row of the table within the given transaction.
//
// The record text and surrogate key of a (key, version) pair never change
// after insert, so the conflict clause only refreshes the mutable columns:
// interval end, current/retired flags, and lineage.
func saveRows(ctx context.Context, tx *sql.Tx, table *history.Table) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_rows
		(table_name, key, version, surrogate_key, record,
		 effective_from, effective_to, is_current, retired,
		 batch_id, transform_version, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, key, version) DO UPDATE SET
			effective_to      = excluded.effective_to,
			is_current        = excluded.is_current,
			retired           = excluded.retired,
			batch_id          = excluded.batch_id,
			transform_version = excluded.transform_version,
			ingested_at       = excluded.ingested_at
	`)
	if err != nil {
		return fmt.Errorf("prepare row upsert: %w", err)
	}
	defer stmt.Close()

	tableName := table.Schema().Table
	for _, row := range table.Rows() {
		recordJSON, err := marshalRecord(row.Record)
		if err != nil {
			return fmt.Errorf("row %s v%d: %w", row.Key, row.Version, err)
		}

		_, err = stmt.ExecContext(ctx,
			tableName,
			string(row.Key),
			row.Version,
			row.SurrogateKey,
			recordJSON,
			formatTime(row.EffectiveFrom),
			nullableTime(row.EffectiveTo),
			boolToInt(row.IsCurrent),
			boolToInt(row.Retired),
			row.Lineage.SourceBatchID,
			row.Lineage.TransformVersion,
			formatTime(row.Lineage.IngestedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert row %s v%d: %w", row.Key, row.Version, err)
		}
	}

	return nil
}

// WriteAuditEvent appends one event to the audit trail.
// The batch id is lifted out of the metadata for indexed lookup.
func (s *Store) WriteAuditEvent(ctx context.Context, e audit.Event) error {
	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	batchID := ""
	if id, ok := e.Metadata["batch_id"].(string); ok {
		batchID = id
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(batch_id, stage, event_type, message, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		batchID,
		string(e.Stage),
		e.EventType,
		e.Message,
		metadataJSON,
		formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// AuditSink returns an audit.Sink that persists every event.
// Write failures are dropped: the audit trail is best-effort and must
// never fail a pipeline run.
func (s *Store) AuditSink() audit.Sink {
	return auditSink{store: s}
}

type auditSink struct {
	store *Store
}

func (a auditSink) Emit(e audit.Event) {
	_ = a.store.WriteAuditEvent(context.Background(), e)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
