package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// salesSpec defines the table every CLI test runs against: a string key,
// a numeric column with a WARN range rule, and a BLOCKING duplicate rule.
const salesSpec = `
table: sales: {
	attributes: {
		region:  "string"
		sales:   "float"
		sold_on: "date"
	}
	natural_key: ["region"]
	rules: {
		no_dupes: {kind: "duplicate", severity: "BLOCKING"}
		sane_range: {kind: "range", severity: "WARN", column: "sales", min: 0, max: 1000}
	}
	merge: {
		out_of_order: "ABORT"
	}
}
`

func writeSpecDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "tables.cue"), []byte(salesSpec), 0o644)
	require.NoError(t, err)
	return dir
}

func writeSnapshot(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

// execute runs the root command with the given args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedDatabase merges two snapshots into a fresh database and returns its
// path: January opens West and East; February changes West and drops East.
func seedDatabase(t *testing.T, specsDir string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	jan := writeSnapshot(t, "jan.csv", "region,sales,sold_on\nWest,10,2025-01-01\nEast,20,2025-01-01\n")
	_, err := execute(t, "merge", specsDir,
		"--table", "sales", "--snapshot", jan, "--db", dbPath, "--as-of", "2025-01-01")
	require.NoError(t, err)

	feb := writeSnapshot(t, "feb.csv", "region,sales,sold_on\nWest,99,2025-02-01\n")
	_, err = execute(t, "merge", specsDir,
		"--table", "sales", "--snapshot", feb, "--db", dbPath, "--as-of", "2025-02-01")
	require.NoError(t, err)

	return dbPath
}
