package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

// createTestStore creates a new store backed by a temp file.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema("sales",
		[]record.Attribute{
			{Name: "region", Type: record.TypeString},
			{Name: "sales", Type: record.TypeFloat},
			{Name: "sold_on", Type: record.TypeDate},
		},
		[]string{"region"},
	)
	if err != nil {
		t.Fatalf("NewSchema() failed: %v", err)
	}
	return s
}

var (
	testT1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	testT2 = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func testRecord(region string, sales float64) record.Record {
	return record.Record{
		"region":  record.String(region),
		"sales":   record.Float(sales),
		"sold_on": record.NewDate(2025, 1, 15),
	}
}

func testRow(t *testing.T, s *record.Schema, rec record.Record, version int, from, to time.Time, current, retired bool) history.Row {
	t.Helper()
	key, err := record.KeyOf(s, rec)
	if err != nil {
		t.Fatalf("KeyOf() failed: %v", err)
	}
	surrogate, err := record.SurrogateKey(s.Table, key, version)
	if err != nil {
		t.Fatalf("SurrogateKey() failed: %v", err)
	}
	return history.Row{
		Key:           key,
		Record:        rec,
		SurrogateKey:  surrogate,
		Version:       version,
		EffectiveFrom: from,
		EffectiveTo:   to,
		IsCurrent:     current,
		Retired:       retired,
		Lineage: history.Lineage{
			SourceBatchID:    "batch-test",
			TransformVersion: "v1.0.0",
			IngestedAt:       testT1,
		},
	}
}

func mustTable(t *testing.T, s *record.Schema, rows ...history.Row) *history.Table {
	t.Helper()
	table, err := history.FromRows(s, rows)
	if err != nil {
		t.Fatalf("FromRows() failed: %v", err)
	}
	return table
}

// createTestTable builds a table with one two-version key and one retired
// key, covering closed, open, and retired interval shapes.
func createTestTable(t *testing.T) *history.Table {
	t.Helper()
	s := testSchema(t)
	rows := []history.Row{
		testRow(t, s, testRecord("East", 5), 1, testT1, testT2, false, true),
		testRow(t, s, testRecord("West", 10), 1, testT1, testT2, false, false),
		testRow(t, s, testRecord("West", 99), 2, testT2, time.Time{}, true, false),
	}
	table, err := history.FromRows(s, rows)
	if err != nil {
		t.Fatalf("FromRows() failed: %v", err)
	}
	return table
}
