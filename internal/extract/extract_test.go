package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/cauam1/silverlake/internal/record"
)

func salesSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema("sales",
		[]record.Attribute{
			{Name: "region", Type: record.TypeString},
			{Name: "sales", Type: record.TypeFloat},
			{Name: "quantity", Type: record.TypeInt},
			{Name: "sold_on", Type: record.TypeDate},
			{Name: "active", Type: record.TypeBool},
		},
		[]string{"region"},
	)
	require.NoError(t, err)
	return s
}

func TestReadSnapshotCSV(t *testing.T) {
	csv := strings.Join([]string{
		"region,sales,quantity,sold_on,active",
		"West,10.5,3,2025-01-15,true",
		"East,20,7,2025-01-16,false",
	}, "\n")

	snap, err := ReadSnapshot(salesSchema(t), "sales.csv", strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)

	assert.Equal(t, record.String("West"), snap.Records[0]["region"])
	assert.Equal(t, record.Float(10.5), snap.Records[0]["sales"])
	assert.Equal(t, record.Int(3), snap.Records[0]["quantity"])
	assert.Equal(t, record.NewDate(2025, 1, 15), snap.Records[0]["sold_on"])
	assert.Equal(t, record.Bool(true), snap.Records[0]["active"])
}

func TestReadSnapshotCSVSkipsBOM(t *testing.T) {
	csv := "\xEF\xBB\xBFregion,sales\nWest,10\n"

	schema, err := record.NewSchema("sales",
		[]record.Attribute{
			{Name: "region", Type: record.TypeString},
			{Name: "sales", Type: record.TypeFloat},
		},
		[]string{"region"},
	)
	require.NoError(t, err)

	snap, err := ReadSnapshot(schema, "sales.csv", strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, record.String("West"), snap.Records[0]["region"])
}

func TestReadSnapshotCSVNullsAndMissingColumns(t *testing.T) {
	// The file omits sold_on and active entirely; sales is empty on row 2.
	csv := strings.Join([]string{
		"region,sales,quantity",
		"West,10.5,3",
		"East,,7",
	}, "\n")

	snap, err := ReadSnapshot(salesSchema(t), "sales.csv", strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)

	assert.Equal(t, record.Null{}, snap.Records[1]["sales"])
	assert.Equal(t, record.Null{}, snap.Records[0]["sold_on"])
	assert.Equal(t, record.Null{}, snap.Records[0]["active"])
}

func TestReadSnapshotCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{
			name: "undeclared column",
			csv:  "region,bogus\nWest,1\n",
			want: "bogus",
		},
		{
			name: "bad int",
			csv:  "region,quantity\nWest,seven\n",
			want: `row 2, column "quantity"`,
		},
		{
			name: "bad date",
			csv:  "region,sold_on\nWest,someday\n",
			want: `row 2, column "sold_on"`,
		},
		{
			name: "empty file",
			csv:  "",
			want: "no header row",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSnapshot(salesSchema(t), "sales.csv", strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadSnapshotXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"region", "sales", "quantity"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"West", 10.5, 3}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"East", 20.0, 7}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	snap, err := ReadSnapshot(salesSchema(t), "sales.xlsx", buf)
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, record.String("East"), snap.Records[1]["region"])
	assert.Equal(t, record.Float(20), snap.Records[1]["sales"])
	assert.Equal(t, record.Int(7), snap.Records[1]["quantity"])
}

func TestReadSnapshotUnsupportedFormat(t *testing.T) {
	_, err := ReadSnapshot(salesSchema(t), "sales.parquet", strings.NewReader(""))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
