package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/validate"
)

// Scenario defines a conformance test scenario: a table, a ruleset, and a
// sequence of snapshots merged in order.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Table declares the schema the snapshots are typed under.
	Table TableDef `yaml:"table"`

	// Rules is the validation ruleset, in descriptor form.
	Rules []validate.Descriptor `yaml:"rules,omitempty"`

	// Merge overrides merge policies. Absent fields take defaults.
	Merge MergeDef `yaml:"merge,omitempty"`

	// Snapshots are merged in order, each as one pipeline run.
	Snapshots []SnapshotStep `yaml:"snapshots"`

	// Expect validates each step's outcome. Optional; when present its
	// length must equal the number of snapshots.
	Expect []ExpectClause `yaml:"expect,omitempty"`
}

// TableDef declares a schema in scenario form. Attributes are a list to
// preserve declaration order.
type TableDef struct {
	Name       string         `yaml:"name"`
	Attributes []AttributeDef `yaml:"attributes"`
	NaturalKey []string       `yaml:"natural_key"`
}

// AttributeDef is one declared column.
type AttributeDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// MergeDef carries merge policy overrides in scenario form.
type MergeDef struct {
	Retirement     string  `yaml:"retirement,omitempty"`
	OutOfOrder     string  `yaml:"out_of_order,omitempty"`
	Revert         string  `yaml:"revert,omitempty"`
	FloatTolerance float64 `yaml:"float_tolerance,omitempty"`
}

// SnapshotStep is one snapshot: its extraction instant and raw records.
type SnapshotStep struct {
	AsOf    time.Time        `yaml:"as_of"`
	Records []map[string]any `yaml:"records"`
}

// ExpectClause specifies the expected outcome of one step.
type ExpectClause struct {
	// Verdict is the expected validation verdict. Empty skips the check.
	Verdict string `yaml:"verdict,omitempty"`

	// Counts are expected manifest counts. Subset match - only specified
	// categories are validated.
	Counts map[string]int `yaml:"counts,omitempty"`

	// Error is a substring the step's error must contain. When set, the
	// step is expected to fail.
	Error string `yaml:"error,omitempty"`
}

// Schema builds the record schema from the table definition.
func (s *Scenario) Schema() (*record.Schema, error) {
	attrs := make([]record.Attribute, len(s.Table.Attributes))
	for i, a := range s.Table.Attributes {
		attrs[i] = record.Attribute{Name: a.Name, Type: record.AttrType(a.Type)}
	}
	return record.NewSchema(s.Table.Name, attrs, s.Table.NaturalKey)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Table.Name == "" {
		return fmt.Errorf("table.name is required")
	}
	if len(s.Table.Attributes) == 0 {
		return fmt.Errorf("table.attributes is required")
	}
	if len(s.Table.NaturalKey) == 0 {
		return fmt.Errorf("table.natural_key is required")
	}
	if len(s.Snapshots) == 0 {
		return fmt.Errorf("at least one snapshot is required")
	}
	for i, snap := range s.Snapshots {
		if snap.AsOf.IsZero() {
			return fmt.Errorf("snapshots[%d]: as_of is required", i)
		}
	}
	if len(s.Expect) > 0 && len(s.Expect) != len(s.Snapshots) {
		return fmt.Errorf("expect has %d clauses for %d snapshots", len(s.Expect), len(s.Snapshots))
	}
	return nil
}
