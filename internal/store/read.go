package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cauam1/silverlake/internal/audit"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
)

// LoadTable reads the full version history of one table and rebuilds it as
// an in-memory Table. Invariants are re-checked on load, so a corrupted
// store surfaces immediately rather than during the next merge.
//
// Ordering is deterministic: ORDER BY key COLLATE BINARY ASC, version ASC.
// Returns an empty table (not an error) if no rows exist.
func (s *Store) LoadTable(ctx context.Context, schema *record.Schema) (*history.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, version, surrogate_key, record,
		       effective_from, effective_to, is_current, retired,
		       batch_id, transform_version, ingested_at
		FROM history_rows
		WHERE table_name = ?
		ORDER BY key COLLATE BINARY ASC, version ASC
	`, schema.Table)
	if err != nil {
		return nil, fmt.Errorf("query history rows: %w", err)
	}
	defer rows.Close()

	var loaded []history.Row
	for rows.Next() {
		row, err := scanHistoryRow(schema, rows)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	table, err := history.FromRows(schema, loaded)
	if err != nil {
		return nil, fmt.Errorf("load table %q: %w", schema.Table, err)
	}
	return table, nil
}

func scanHistoryRow(schema *record.Schema, rows *sql.Rows) (history.Row, error) {
	var (
		key, surrogate, recordJSON          string
		version, isCurrent, retired         int
		fromStr, batchID, transform, ingest string
		toStr                               sql.NullString
	)
	err := rows.Scan(&key, &version, &surrogate, &recordJSON,
		&fromStr, &toStr, &isCurrent, &retired,
		&batchID, &transform, &ingest)
	if err != nil {
		return history.Row{}, fmt.Errorf("scan history row: %w", err)
	}

	rec, err := unmarshalRecord(schema, recordJSON)
	if err != nil {
		return history.Row{}, fmt.Errorf("row %s v%d: %w", key, version, err)
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return history.Row{}, fmt.Errorf("row %s v%d: effective_from: %w", key, version, err)
	}
	to, err := parseTime(toStr.String)
	if err != nil {
		return history.Row{}, fmt.Errorf("row %s v%d: effective_to: %w", key, version, err)
	}
	ingestedAt, err := parseTime(ingest)
	if err != nil {
		return history.Row{}, fmt.Errorf("row %s v%d: ingested_at: %w", key, version, err)
	}

	return history.Row{
		Key:           record.Key(key),
		Record:        rec,
		SurrogateKey:  surrogate,
		Version:       version,
		EffectiveFrom: from,
		EffectiveTo:   to,
		IsCurrent:     isCurrent != 0,
		Retired:       retired != 0,
		Lineage: history.Lineage{
			SourceBatchID:    batchID,
			TransformVersion: transform,
			IngestedAt:       ingestedAt,
		},
	}, nil
}

// ReadManifest retrieves the manifest of one merge run by batch id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadManifest(ctx context.Context, batchID string) (*merge.Manifest, error) {
	var manifestJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT manifest FROM manifests WHERE batch_id = ?
	`, batchID).Scan(&manifestJSON)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", batchID, err)
	}
	return unmarshalManifest(manifestJSON)
}

// ListManifests returns every manifest recorded for a table, ordered by
// snapshot timestamp then batch id for determinism.
func (s *Store) ListManifests(ctx context.Context, tableName string) ([]*merge.Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT manifest FROM manifests
		WHERE table_name = ?
		ORDER BY as_of ASC, batch_id COLLATE BINARY ASC
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	defer rows.Close()

	manifests := []*merge.Manifest{}
	for rows.Next() {
		var manifestJSON string
		if err := rows.Scan(&manifestJSON); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		m, err := unmarshalManifest(manifestJSON)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}

	return manifests, nil
}

// ReadAuditEvents returns the audit trail of one batch in emission order.
// An empty batch id returns every event.
func (s *Store) ReadAuditEvents(ctx context.Context, batchID string) ([]audit.Event, error) {
	query := `
		SELECT stage, event_type, message, metadata, ts
		FROM audit_events
		ORDER BY id ASC
	`
	args := []any{}
	if batchID != "" {
		query = `
			SELECT stage, event_type, message, metadata, ts
			FROM audit_events
			WHERE batch_id = ?
			ORDER BY id ASC
		`
		args = append(args, batchID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var stage, eventType, message, metadataJSON, tsStr string
		if err := rows.Scan(&stage, &eventType, &message, &metadataJSON, &tsStr); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		md, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, err
		}
		ts, err := parseTime(tsStr)
		if err != nil {
			return nil, fmt.Errorf("audit event: %w", err)
		}
		events = append(events, audit.Event{
			Timestamp: ts,
			Stage:     audit.Stage(stage),
			EventType: eventType,
			Message:   message,
			Metadata:  md,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
