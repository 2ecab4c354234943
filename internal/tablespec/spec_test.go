package tablespec

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/validate"
)

func compileTable(t *testing.T, src, path string) (*Spec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileTable(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileTableBasic(t *testing.T) {
	spec, err := compileTable(t, `
		table: sales: {
			attributes: {
				region:   "string"
				product:  "string"
				sales:    "float"
				quantity: "int"
				sold_on:  "date"
			}
			natural_key: ["region", "product"]

			rules: {
				no_dupes:    {kind: "duplicate", severity: "BLOCKING"}
				sales_range: {kind: "range", severity: "WARN", column: "sales", min: 0, max: 1e6}
			}

			merge: {
				retirement:   "SOFT_RETIRE"
				out_of_order: "EXCLUDE"
			}
		}
	`, "table.sales")
	require.NoError(t, err)

	assert.Equal(t, "sales", spec.Schema.Table)
	require.Len(t, spec.Schema.Attributes, 5)
	// Declaration order survives compilation.
	assert.Equal(t, "region", spec.Schema.Attributes[0].Name)
	assert.Equal(t, "sold_on", spec.Schema.Attributes[4].Name)
	assert.Equal(t, record.TypeDate, spec.Schema.Attributes[4].Type)
	assert.Equal(t, []string{"region", "product"}, spec.Schema.NaturalKey)

	require.Len(t, spec.Rules, 2)
	assert.Equal(t, "no_dupes", spec.Rules[0].ID)
	assert.Equal(t, validate.KindDuplicate, spec.Rules[0].Kind)
	assert.Equal(t, validate.SeverityBlocking, spec.Rules[0].Severity)
	assert.Equal(t, "sales", spec.Rules[1].Params["column"])
	assert.Equal(t, float64(1e6), spec.Rules[1].Params["max"])

	assert.Equal(t, merge.SoftRetire, spec.Merge.Retirement)
	assert.Equal(t, merge.ExcludeKeys, spec.Merge.OutOfOrder)
	// Unspecified policies take defaults.
	assert.Equal(t, merge.RevertNewVersion, spec.Merge.Revert)
}

func TestCompileTableRuleSetIsRunnable(t *testing.T) {
	spec, err := compileTable(t, `
		table: sales: {
			attributes: {region: "string", sales: "float"}
			natural_key: ["region"]
			rules: {
				null_check: {kind: "null-ratio", severity: "BLOCKING", column: "sales", max_ratio: 0.1}
				anomaly:    {kind: "anomaly", severity: "WARN", column: "sales", max_zscore: 3.0, min_samples: 5}
			}
		}
	`, "table.sales")
	require.NoError(t, err)

	rules, err := spec.RuleSet()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "null_check", rules[0].ID())
	assert.Equal(t, "anomaly", rules[1].ID())
}

func TestCompileTableDefaultsWithoutRulesAndMerge(t *testing.T) {
	spec, err := compileTable(t, `
		table: sales: {
			attributes: {region: "string"}
			natural_key: ["region"]
		}
	`, "table.sales")
	require.NoError(t, err)

	assert.Empty(t, spec.Rules)
	assert.Equal(t, merge.SoftRetire, spec.Merge.Retirement)
	assert.Equal(t, merge.AbortRun, spec.Merge.OutOfOrder)
}

func TestCompileTableErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "missing attributes",
			src:  `table: sales: {natural_key: ["region"]}`,
		},
		{
			name: "unknown attribute type",
			src: `table: sales: {
				attributes: {region: "varchar"}
				natural_key: ["region"]
			}`,
		},
		{
			name: "missing natural key",
			src:  `table: sales: {attributes: {region: "string"}}`,
		},
		{
			name: "natural key references unknown attribute",
			src: `table: sales: {
				attributes: {region: "string"}
				natural_key: ["bogus"]
			}`,
		},
		{
			name: "rule without kind",
			src: `table: sales: {
				attributes: {region: "string"}
				natural_key: ["region"]
				rules: {r1: {severity: "WARN"}}
			}`,
		},
		{
			name: "rule without severity",
			src: `table: sales: {
				attributes: {region: "string"}
				natural_key: ["region"]
				rules: {r1: {kind: "duplicate"}}
			}`,
		},
		{
			name: "unknown merge policy",
			src: `table: sales: {
				attributes: {region: "string"}
				natural_key: ["region"]
				merge: {retirement: "HARD_DELETE"}
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileTable(t, tt.src, "table.sales")
			require.Error(t, err)

			var compileErr *CompileError
			assert.ErrorAs(t, err, &compileErr)
		})
	}
}
