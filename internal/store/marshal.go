package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
)

// timeLayout is the stored form of every timestamp column: RFC 3339 with
// nanoseconds, always UTC. Lexicographic order equals chronological order.
const timeLayout = time.RFC3339Nano

// marshalRecord converts a Record to canonical JSON TEXT for storage.
// Canonical form keeps the stored text byte-stable, so re-saving an
// unchanged row never produces a spurious diff.
func marshalRecord(r record.Record) (string, error) {
	data, err := record.MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored canonical JSON back into a typed Record
// under the table's schema.
func unmarshalRecord(s *record.Schema, data string) (record.Record, error) {
	r, err := record.UnmarshalRecord(s, []byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// marshalManifest converts a Manifest to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so key strings containing
// "<" or "&" store verbatim.
func marshalManifest(m *merge.Manifest) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalManifest parses stored JSON TEXT into a Manifest.
func unmarshalManifest(data string) (*merge.Manifest, error) {
	var m merge.Manifest
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// marshalMetadata converts audit event metadata to JSON TEXT.
// Go's json.Marshal sorts map keys, so output is deterministic.
func marshalMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(md); err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalMetadata parses stored JSON TEXT into audit event metadata.
func unmarshalMetadata(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}

// formatTime renders a timestamp for storage. The zero time stores as the
// empty string, which scans back to zero.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime is the inverse of formatTime.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// nullableTime renders an open-ended interval bound as SQL NULL.
func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
