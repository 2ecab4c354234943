package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauam1/silverlake/internal/audit"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/testutil"
	"github.com/cauam1/silverlake/internal/validate"
)

var (
	jan = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func salesSchema(t *testing.T) *record.Schema {
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

func snap(t *testing.T, records ...record.Record) *record.Snapshot {
	t.Helper()
	return &record.Snapshot{Schema: salesSchema(t), Records: records}
}

func passingEngine(t *testing.T) *validate.Engine {
	t.Helper()
	eng, err := validate.NewEngine([]validate.Rule{
		validate.NewDuplicateRule("no-dupes", validate.SeverityBlocking),
	})
	require.NoError(t, err)
	return eng
}

func newPipeline(t *testing.T, eng *validate.Engine, opts merge.Options, extra ...Option) (*Pipeline, *audit.Recorder) {
	t.Helper()
	recorder := audit.NewRecorder()
	options := append([]Option{
		WithAuditSink(recorder),
		WithBatchIDGenerator(testutil.NewFixedBatchGenerator("batch-1", "batch-2", "batch-3")),
		WithClock(testutil.NewFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)).Now),
	}, extra...)
	p, err := New(eng, opts, "v1.0.0", options...)
	require.NoError(t, err)
	return p, recorder
}

func TestRunHappyPath(t *testing.T) {
	p, recorder := newPipeline(t, passingEngine(t), merge.Options{})
	prior := history.New(salesSchema(t))

	res, err := p.Run(snap(t, rec("West", 10), rec("East", 20)), prior, jan)
	require.NoError(t, err)

	assert.Equal(t, "batch-1", res.BatchID)
	assert.Equal(t, "batch-1", res.Manifest.BatchID)
	assert.Equal(t, validate.VerdictPassed, res.Report.Verdict)
	assert.Len(t, res.Manifest.Inserted, 2)
	assert.Equal(t, 2, res.Table.Len())
	assert.Nil(t, res.OutOfOrder)
	require.NoError(t, res.Table.CheckInvariants())

	// Every affected row carries lineage for this batch.
	for _, row := range res.Table.Rows() {
		assert.Equal(t, "batch-1", row.Lineage.SourceBatchID)
		assert.Equal(t, "v1.0.0", row.Lineage.TransformVersion)
	}

	require.Len(t, recorder.ByType("validation_verdict"), 1)
	require.Len(t, recorder.ByType("merge_complete"), 1)
	assert.Empty(t, recorder.ByType("run_error"))
}

func TestRunRejectedLeavesPriorUntouched(t *testing.T) {
	eng, err := validate.NewEngine([]validate.Rule{
		validate.NewRangeRule("sales-positive", validate.SeverityBlocking, "sales", 0, 1000),
	})
	require.NoError(t, err)
	p, recorder := newPipeline(t, eng, merge.Options{})

	prior := history.New(salesSchema(t))
	first, err := p.Run(snap(t, rec("West", 10)), prior, jan)
	require.NoError(t, err)

	before := first.Table.Rows()
	res, err := p.Run(snap(t, rec("West", -5)), first.Table, feb)
	require.Nil(t, res)

	var rejected *validate.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, validate.VerdictRejected, rejected.Report.Verdict)

	// Prior table unchanged: same rows, West still current at version 1.
	assert.Equal(t, before, first.Table.Rows())
	cur, ok := first.Table.Current(mustKey(t, rec("West", 10)))
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version)

	require.Len(t, recorder.ByType("run_error"), 1)
}

func TestRunQuarantinedKeysInManifest(t *testing.T) {
	eng, err := validate.NewEngine([]validate.Rule{
		validate.NewRangeRule("sales-cap", validate.SeverityWarn, "sales", 0, 50),
	})
	require.NoError(t, err)
	p, _ := newPipeline(t, eng, merge.Options{})

	prior := history.New(salesSchema(t))
	res, err := p.Run(snap(t, rec("West", 10), rec("East", 999)), prior, jan)
	require.NoError(t, err)

	assert.Equal(t, validate.VerdictQuarantined, res.Report.Verdict)
	// Only West merged; East was quarantined, recorded in the manifest.
	assert.Len(t, res.Manifest.Inserted, 1)
	require.Len(t, res.Manifest.Quarantined, 1)
	assert.Equal(t, mustKey(t, rec("East", 999)), res.Manifest.Quarantined[0])
	assert.Equal(t, 1, res.Table.Len())
}

// A row quarantined for a null natural key has no computable key, but must
// still appear in the manifest rather than vanish without trace.
func TestRunQuarantinedNullKeyLeavesTrace(t *testing.T) {
	eng, err := validate.NewEngine([]validate.Rule{
		validate.NewNullRatioRule("key-nulls", validate.SeverityWarn, "region", 0.25),
	})
	require.NoError(t, err)
	p, _ := newPipeline(t, eng, merge.Options{})

	nullKey := record.Record{"region": record.Null{}, "sales": record.Float(5)}
	prior := history.New(salesSchema(t))
	res, err := p.Run(snap(t, rec("West", 10), nullKey), prior, jan)
	require.NoError(t, err)

	assert.Equal(t, validate.VerdictQuarantined, res.Report.Verdict)
	assert.Len(t, res.Manifest.Inserted, 1)
	require.Len(t, res.Manifest.Quarantined, 1)
	assert.Equal(t, record.Key("row:1"), res.Manifest.Quarantined[0])
}

func TestRunOutOfOrderAbort(t *testing.T) {
	p, recorder := newPipeline(t, passingEngine(t), merge.Options{})
	prior := history.New(salesSchema(t))

	first, err := p.Run(snap(t, rec("West", 10)), prior, feb)
	require.NoError(t, err)

	res, err := p.Run(snap(t, rec("West", 99)), first.Table, jan)
	require.Nil(t, res)

	var ooo *merge.OutOfOrderSnapshotError
	require.ErrorAs(t, err, &ooo)
	assert.False(t, ooo.Excluded)
	require.Len(t, recorder.ByType("run_error"), 1)
}

func TestRunOutOfOrderExclude(t *testing.T) {
	p, _ := newPipeline(t, passingEngine(t), merge.Options{
		OutOfOrder: merge.ExcludeKeys,
	})
	prior := history.New(salesSchema(t))

	first, err := p.Run(snap(t, rec("West", 10)), prior, feb)
	require.NoError(t, err)

	// West regresses in time, East is new: East merges, West is excluded.
	res, err := p.Run(snap(t, rec("West", 99), rec("East", 20)), first.Table, jan)
	require.NoError(t, err)
	require.NotNil(t, res.OutOfOrder)
	assert.True(t, res.OutOfOrder.Excluded)

	require.Len(t, res.Manifest.Excluded, 1)
	assert.Equal(t, mustKey(t, rec("West", 10)), res.Manifest.Excluded[0])
	assert.Len(t, res.Manifest.Inserted, 1)

	cur, ok := res.Table.Current(mustKey(t, rec("West", 10)))
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version)
}

func TestRunDeterministicBatchIDs(t *testing.T) {
	p, _ := newPipeline(t, passingEngine(t), merge.Options{})
	prior := history.New(salesSchema(t))

	first, err := p.Run(snap(t, rec("West", 10)), prior, jan)
	require.NoError(t, err)
	second, err := p.Run(snap(t, rec("West", 20)), first.Table, feb)
	require.NoError(t, err)

	assert.Equal(t, "batch-1", first.BatchID)
	assert.Equal(t, "batch-2", second.BatchID)

	// The new version carries the second batch's lineage, and closing the
	// old version re-stamps it with the closing batch.
	versions := second.Table.VersionsOf(mustKey(t, rec("West", 10)))
	require.Len(t, versions, 2)
	assert.Equal(t, "batch-2", versions[0].Lineage.SourceBatchID)
	assert.Equal(t, "batch-2", versions[1].Lineage.SourceBatchID)
}

func TestNewValidation(t *testing.T) {
	eng := passingEngine(t)

	_, err := New(nil, merge.Options{}, "v1")
	require.Error(t, err)

	_, err = New(eng, merge.Options{}, "")
	require.Error(t, err)

	_, err = New(eng, merge.Options{Retirement: "bogus"}, "v1")
	require.Error(t, err)
}

func TestUUIDv7GeneratorUnique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		require.False(t, seen[id], "duplicate batch id %s", id)
		seen[id] = true
	}
}

func mustKey(t *testing.T, r record.Record) record.Key {
	t.Helper()
	k, err := record.KeyOf(salesSchema(t), r)
	require.NoError(t, err)
	return k
}
