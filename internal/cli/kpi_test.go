package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cauam1/silverlake/internal/metrics"
)

func TestKPIReport(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	out, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report metrics.Report
	require.NoError(t, json.Unmarshal(data, &report))

	// Only West is current after the February run.
	assert.Equal(t, "sales", report.Table)
	assert.Equal(t, 1, report.Rows)
	require.NotEmpty(t, report.Columns)
	sales := report.Columns[0]
	assert.Equal(t, "sales", sales.Column)
	assert.Equal(t, float64(99), sales.Total)
}

func TestKPIReportText(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	out, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "sales: 1 current row(s)")
	assert.Contains(t, out, "total=99")
}

func TestKPIDeltaRestrictsToBatch(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	listOut, err := execute(t, "manifest", "--table", "sales", "--db", dbPath, "--list", "--format", "json")
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(listOut), &resp))
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var summaries []ManifestSummary
	require.NoError(t, json.Unmarshal(data, &summaries))
	require.Len(t, summaries, 2)

	// The February run touched West and East; East has no current row, so
	// the delta report covers West alone.
	out, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath,
		"--batch", summaries[1].BatchID, "--format", "json")
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	var report metrics.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.Rows)
}

func TestKPICumulativeSeries(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	out, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath,
		"--column", "sales", "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var series struct {
		Table  string          `json:"table"`
		Column string          `json:"column"`
		Points []metrics.Point `json:"points"`
	}
	require.NoError(t, json.Unmarshal(data, &series))

	assert.Equal(t, "sales", series.Column)
	require.Len(t, series.Points, 1)
	assert.Equal(t, float64(99), series.Points[0].Value)
	assert.Equal(t, float64(99), series.Points[0].Cumulative)
}

func TestKPIUnknownColumn(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	_, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath, "--column", "margin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestKPIUnknownBatch(t *testing.T) {
	specsDir := writeSpecDir(t)
	dbPath := seedDatabase(t, specsDir)

	_, err := execute(t, "kpi", specsDir, "--table", "sales", "--db", dbPath, "--batch", "no-such-batch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no manifest for batch")
}
