package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "basic_merge.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "basic_merge", scenario.Name)
	assert.Equal(t, "sales", scenario.Table.Name)
	require.Len(t, scenario.Snapshots, 2)
	assert.Len(t, scenario.Snapshots[0].Records, 2)
	require.Len(t, scenario.Expect, 2)
	assert.Equal(t, 2, scenario.Expect[0].Counts["inserted"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
table:
  name: sales
  attributes:
    - {name: region, type: string}
  natural_key: [region]
snapshots:
  - as_of: 2025-01-01T00:00:00Z
    records: []
assertion: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
table:
  name: sales
  attributes: [{name: region, type: string}]
  natural_key: [region]
snapshots:
  - as_of: 2025-01-01T00:00:00Z
    records: []
`,
			want: "name is required",
		},
		{
			name: "no snapshots",
			yaml: `
name: empty
table:
  name: sales
  attributes: [{name: region, type: string}]
  natural_key: [region]
`,
			want: "at least one snapshot",
		},
		{
			name: "snapshot without as_of",
			yaml: `
name: no_asof
table:
  name: sales
  attributes: [{name: region, type: string}]
  natural_key: [region]
snapshots:
  - records: []
`,
			want: "as_of is required",
		},
		{
			name: "expect length mismatch",
			yaml: `
name: mismatch
table:
  name: sales
  attributes: [{name: region, type: string}]
  natural_key: [region]
snapshots:
  - as_of: 2025-01-01T00:00:00Z
    records: []
expect:
  - verdict: PASSED
  - verdict: PASSED
`,
			want: "expect has 2 clauses",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
