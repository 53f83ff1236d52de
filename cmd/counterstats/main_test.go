package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("COUNTERSTATS_LOG_LEVEL", "error")
	return dir
}

func TestCLIImportSearchAndCosts(t *testing.T) {
	dir := isolate(t)

	out, err := runCLI(t, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "database ready")

	path := filepath.Join(dir, "2020_Wiley_TR_J1.tsv")
	line := report.Line{Fields: report.Row{"title": "Journal A", "platform": "Wiley Online", "metric_type": "Total_Item_Requests"}}
	line.Months[0], line.Months[1] = 7, 5
	require.NoError(t, report.WriteFile(path, report.Document{
		Subtype: catalog.TR_J1,
		Year:    2020,
		Header:  report.Header{ReportName: "Journal Requests (Excluding OA_Gold)", ReportID: "TR_J1", Release: "5", Created: "2021-01-10"},
		Lines:   []report.Line{line},
	}))

	out, err = runCLI(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2020_Wiley_TR_J1.tsv")

	out, err = runCLI(t, "search", "TR_J1", "--from", "2020", "--to", "2020", "--where", "title = 'Journal A'", "--where", "reporting_period_total >= 12")
	require.NoError(t, err)
	assert.Contains(t, out, "REPORTING_PERIOD_TOTAL")
	assert.Contains(t, out, "Journal A")

	xlsx := filepath.Join(dir, "top.xlsx")
	out, err = runCLI(t, "top", "TR_J1", "--from", "2020", "--to", "2020", "--metric", "Total_Item_Requests", "--xlsx", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 rows")
	assert.FileExists(t, xlsx)

	out, err = runCLI(t, "costs", "add", "title", "--entity", "Journal A", "--vendor", "Wiley", "--begin", "2020-01", "--end", "2020-12", "--original", "1200")
	require.NoError(t, err)
	assert.Contains(t, out, "stored 12 monthly costs")

	out, err = runCLI(t, "costs", "list", "title", "--year", "2020")
	require.NoError(t, err)
	assert.Contains(t, out, "100.00")
	assert.Contains(t, out, "CAD")
	assert.FileExists(t, filepath.Join(dir, "state", "counterstats", "cost_backups", "title_costs.tsv"))

	out, err = runCLI(t, "stats")
	require.NoError(t, err)
	assert.Regexp(t, `tr_j1\s+2`, out)
	assert.Regexp(t, `title_costs\s+12`, out)
}

func TestCLIRejectsBadInput(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "setup")
	require.NoError(t, err)

	_, err = runCLI(t, "search", "XX")
	assert.ErrorIs(t, err, catalog.ErrUnknownSubtype)

	_, err = runCLI(t, "search", "PR", "--where", "platform ~ x")
	assert.Error(t, err)

	_, err = runCLI(t, "top", "PR")
	assert.ErrorContains(t, err, "--metric")

	_, err = runCLI(t, "costs", "add", "title", "--entity", "A", "--vendor", "V", "--begin", "2020-05", "--end", "2020-01")
	assert.Error(t, err)

	_, err = runCLI(t, "import", filepath.Join(t.TempDir(), "2020_Wiley_PR.tsv"))
	assert.ErrorContains(t, err, "1 of 1 files not imported")
}
