package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/record"
)

var t1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func schema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema("sales",
		[]record.Attribute{
			{Name: "region", Type: record.TypeString},
			{Name: "sales", Type: record.TypeFloat},
		},
		[]string{"region"},
	)
	require.NoError(t, err)
	return s
}

func rec(region string, sales float64) record.Record {
	return record.Record{"region": record.String(region), "sales": record.Float(sales)}
}

func histWith(t *testing.T, records ...record.Record) *history.Table {
	t.Helper()
	s := schema(t)
	var rows []history.Row
	for _, r := range records {
		key, err := record.KeyOf(s, r)
		require.NoError(t, err)
		sk, err := record.SurrogateKey(s.Table, key, 1)
		require.NoError(t, err)
		rows = append(rows, history.Row{
			Key: key, Record: r, SurrogateKey: sk,
			Version: 1, EffectiveFrom: t1, IsCurrent: true,
		})
	}
	table, err := history.FromRows(s, rows)
	require.NoError(t, err)
	return table
}

func TestClassifyAgainstEmptyHistory(t *testing.T) {
	hist := histWith(t)
	result, err := Classify([]record.Record{rec("West", 10), rec("East", 20)}, hist, 0)
	require.NoError(t, err)

	assert.Equal(t, map[Outcome]int{Unseen: 2}, result.Counts())
	for _, c := range result.ByOutcome(Unseen) {
		assert.Nil(t, c.Current)
		assert.NotNil(t, c.Incoming)
	}
}

func TestClassifyAllOutcomes(t *testing.T) {
	hist := histWith(t, rec("West", 10), rec("East", 20), rec("North", 30))

	snapshot := []record.Record{
		rec("West", 10),  // unchanged
		rec("East", 99),  // changed
		rec("South", 40), // unseen
		// North absent -> missing
	}

	result, err := Classify(snapshot, hist, 0)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{Unseen: 1, Unchanged: 1, Changed: 1, Missing: 1}, result.Counts())

	changed := result.ByOutcome(Changed)
	require.Len(t, changed, 1)
	require.NotNil(t, changed[0].Current)
	assert.Equal(t, record.Float(20), changed[0].Current.Record["sales"])
	assert.Equal(t, record.Float(99), changed[0].Incoming["sales"])

	missing := result.ByOutcome(Missing)
	require.Len(t, missing, 1)
	assert.Nil(t, missing[0].Incoming)
	require.NotNil(t, missing[0].Current)
}

func TestClassifyFloatTolerance(t *testing.T) {
	hist := histWith(t, rec("West", 100.0))

	// Within tolerance: representation noise, not a change.
	result, err := Classify([]record.Record{rec("West", 100.0 + 1e-12)}, hist, 1e-9)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{Unchanged: 1}, result.Counts())

	// Zero tolerance: same delta is a change.
	result, err = Classify([]record.Record{rec("West", 100.0 + 1e-12)}, hist, 0)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{Changed: 1}, result.Counts())
}

func TestClassifyDuplicateKeysFailFast(t *testing.T) {
	hist := histWith(t, rec("West", 10))

	_, err := Classify([]record.Record{rec("West", 10), rec("West", 99)}, hist, 0)
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "sales", dup.Table)
	require.Len(t, dup.Keys, 1)
}

func TestClassifyRetiredKeyIsUnseenAgain(t *testing.T) {
	s := schema(t)
	r := rec("West", 10)
	key, err := record.KeyOf(s, r)
	require.NoError(t, err)
	sk, err := record.SurrogateKey(s.Table, key, 1)
	require.NoError(t, err)

	// Closed row with no current successor: the key was retired.
	hist, err := history.FromRows(s, []history.Row{{
		Key: key, Record: r, SurrogateKey: sk, Version: 1,
		EffectiveFrom: t1, EffectiveTo: t1.AddDate(0, 1, 0), IsCurrent: false,
	}})
	require.NoError(t, err)

	result, err := Classify([]record.Record{rec("West", 10)}, hist, 0)
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{Unseen: 1}, result.Counts())
}

func TestClassifyDeterministicOrder(t *testing.T) {
	hist := histWith(t, rec("b", 1), rec("a", 2))
	snapshot := []record.Record{rec("d", 4), rec("c", 3)}

	result, err := Classify(snapshot, hist, 0)
	require.NoError(t, err)

	keys := make([]string, 0, len(result.Rows))
	for _, c := range result.Rows {
		keys = append(keys, string(c.Key))
	}
	// Incoming keys sorted first, then missing keys sorted.
	assert.Equal(t, []string{`"c"`, `"d"`, `"a"`, `"b"`}, keys)
}
