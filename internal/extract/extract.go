// Package extract reads snapshot files (CSV, XLSX) into typed snapshots
// under a table schema.
//
// Extraction is strict about types and lenient about shape: a cell that
// cannot be parsed as its declared type fails the row with its row number,
// while columns missing from the file come back as Null and extra columns
// are rejected up front.
package extract

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cauam1/silverlake/internal/record"
)

// ErrUnsupportedFormat is returned when a snapshot file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var (
	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}
)

// ReadSnapshot parses a snapshot file into typed records under the schema.
// The format is chosen by file extension: .csv or .xlsx.
func ReadSnapshot(schema *record.Schema, fileName string, r io.Reader) (*record.Snapshot, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return readCSV(schema, r)
	case ".xlsx":
		return readXLSX(schema, r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func readCSV(schema *record.Schema, r io.Reader) (*record.Snapshot, error) {
	reader := bufio.NewReader(r)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	return buildSnapshot(schema, rows)
}

func readXLSX(schema *record.Schema, r io.Reader) (*record.Snapshot, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return buildSnapshot(schema, rows)
}

// buildSnapshot converts raw string rows into a typed snapshot. The first
// row is the header; its column names must all be declared attributes.
func buildSnapshot(schema *record.Schema, rows [][]string) (*record.Snapshot, error) {
	if len(rows) == 0 {
		return nil, errors.New("no header row detected")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty header", i+1)
		}
		if _, ok := schema.AttributeType(name); !ok {
			return nil, &record.SchemaMismatchError{
				Table:     schema.Table,
				Attribute: name,
				Got:       "undeclared",
			}
		}
		headers[i] = name
	}

	records := make([]record.Record, 0, len(rows)-1)
	for rowIdx, row := range rows[1:] {
		rec := make(record.Record, len(schema.Attributes))
		for colIdx, header := range headers {
			cell := ""
			if colIdx < len(row) {
				cell = strings.TrimSpace(row[colIdx])
			}
			t, _ := schema.AttributeType(header)
			v, err := parseCell(t, cell)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", rowIdx+2, header, err)
			}
			rec[header] = v
		}
		// Columns absent from the file are null.
		for _, a := range schema.Attributes {
			if _, ok := rec[a.Name]; !ok {
				rec[a.Name] = record.Null{}
			}
		}
		records = append(records, rec)
	}

	snap := &record.Snapshot{Schema: schema, Records: records}
	if err := snap.CheckSchema(); err != nil {
		return nil, err
	}
	return snap, nil
}

// parseCell converts one raw cell to its declared type. Empty cells are
// Null regardless of type.
func parseCell(t record.AttrType, cell string) (record.Value, error) {
	if cell == "" {
		return record.Null{}, nil
	}

	switch t {
	case record.TypeString:
		return record.String(cell), nil
	case record.TypeInt:
		i, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int", cell)
		}
		return record.Int(i), nil
	case record.TypeFloat:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", cell)
		}
		return record.Float(f), nil
	case record.TypeDate:
		ts, err := parseTimestamp(cell)
		if err != nil {
			return nil, err
		}
		return record.NewDate(ts.Year(), ts.Month(), ts.Day()), nil
	case record.TypeBool:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as bool", cell)
		}
		return record.Bool(b), nil
	default:
		return nil, fmt.Errorf("unknown attribute type %q", t)
	}
}

// parseTimestamp tries each accepted layout in order.
func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as date", raw)
}
