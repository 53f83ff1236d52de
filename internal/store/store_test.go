package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/costs"
	"github.com/janekbaraniewski/counterstats/internal/query"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "usage.db"), filepath.Join(dir, "backups"), nil)
	require.NoError(t, s.SetupDatabase(context.Background(), false))
	return s
}

func titleLine(title, metric string, months ...int64) report.Line {
	l := report.Line{Fields: report.Row{
		"title":       title,
		"publisher":   "Wiley",
		"platform":    "Wiley Online",
		"metric_type": metric,
	}}
	copy(l.Months[:], months)
	return l
}

func writeReport(t *testing.T, dir string, subtype catalog.Subtype, vendor string, year int, lines ...report.Line) string {
	t.Helper()
	path := filepath.Join(dir, report.FileName(year, vendor, subtype))
	require.NoError(t, report.WriteFile(path, report.Document{
		Subtype: subtype,
		Year:    year,
		Header: report.Header{
			ReportName: subtype.Name(),
			ReportID:   string(subtype),
			Release:    "5",
			Created:    "2021-01-05",
		},
		Lines: lines,
	}))
	return path
}

func TestSetupDatabaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetupDatabase(ctx, false))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats.Rows, len(catalog.Subtypes()))
	assert.Len(t, stats.Costs, len(catalog.Families()))
	for _, n := range stats.Rows {
		assert.Zero(t, n)
	}
}

func TestEndToEndTitleReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeReport(t, t.TempDir(), catalog.TR, "Wiley", 2020,
		titleLine("Journal of Things", "Total_Item_Requests", 3),
		titleLine("Journal of Things", "Unique_Item_Requests", 2),
	)

	res, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Zero(t, res.Failed)

	found, err := s.Search(ctx, catalog.TR, 2020, 2020, [][]query.Clause{
		{{Field: "title", Comparator: query.Equal, Value: "Journal of Things"}},
		{{Field: "vendor", Comparator: query.Equal, Value: "Wiley"}},
		{{Field: "metric_type", Comparator: query.Equal, Value: "Total_Item_Requests"}},
	})
	require.NoError(t, err)
	require.Len(t, found.Records, 1)

	row := found.Records[0]
	assert.Equal(t, int64(3), row.Int("reporting_period_total"))
	assert.Equal(t, int64(3), row.Int("january"))
	for _, month := range catalog.MonthNames()[1:] {
		assert.Equal(t, int64(0), row.Int(month), month)
	}
	assert.Nil(t, row["cost_in_local_currency"])
	assert.Equal(t, "2020", row.String("year"))
}

func TestReimportReplacesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeReport(t, dir, catalog.TR_J1, "Wiley", 2020, titleLine("A", "Total_Item_Requests", 1, 2, 3))

	first, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Inserted)

	second, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)
	assert.Equal(t, int64(3), second.Deleted)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows[catalog.TR_J1])

	// A corrected file with fewer months leaves no stale rows behind.
	path = writeReport(t, dir, catalog.TR_J1, "Wiley", 2020, titleLine("A", "Total_Item_Requests", 1))
	_, err = s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Rows[catalog.TR_J1])
}

func TestImportWithWrongYearKeepsRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeReport(t, t.TempDir(), catalog.TR_J1, "Wiley", 2020, titleLine("A", "Total_Item_Requests", 1, 2, 3))

	_, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)

	res, err := s.InsertFile(ctx, path, "Wiley", 2021)
	var perr *report.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, res.Deleted)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows[catalog.TR_J1])
}

func TestYOPKeepsLeadingZeros(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	line := titleLine("Journal of Things", "Total_Item_Requests", 4)
	line.Fields["yop"] = "0001"
	path := writeReport(t, t.TempDir(), catalog.TR_J4, "Wiley", 2020, line)

	_, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)

	found, err := s.Search(ctx, catalog.TR_J4, 2020, 2020, [][]query.Clause{
		{{Field: "yop", Comparator: query.Equal, Value: "0001"}},
	})
	require.NoError(t, err)
	require.Len(t, found.Records, 1)
	assert.Equal(t, "0001", found.Records[0].String("yop"))
}

func TestViewPivotsMonths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeReport(t, t.TempDir(), catalog.TR_J1, "Wiley", 2020,
		titleLine("Every Month", "Total_Item_Requests", 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1),
		titleLine("March Only", "Total_Item_Requests", 0, 0, 5),
	)
	_, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)

	found, err := s.Search(ctx, catalog.TR_J1, 2020, 2020, nil)
	require.NoError(t, err)
	require.Len(t, found.Records, 2)

	byTitle := map[string]Record{}
	for _, rec := range found.Records {
		byTitle[rec.String("title")] = rec
	}
	assert.Equal(t, int64(12), byTitle["Every Month"].Int("reporting_period_total"))
	assert.Equal(t, int64(1), byTitle["Every Month"].Int("december"))
	assert.Equal(t, int64(5), byTitle["March Only"].Int("march"))
	assert.Equal(t, int64(5), byTitle["March Only"].Int("reporting_period_total"))
	assert.Equal(t, int64(0), byTitle["March Only"].Int("april"))
}

func TestSearchWithNoMatchesIsEmpty(t *testing.T) {
	s := newTestStore(t)
	found, err := s.Search(context.Background(), catalog.DR, 1999, 1999, [][]query.Clause{
		{{Field: "metric_type", Comparator: query.Equal, Value: "Searches_Regular"}, {Field: "metric_type", Comparator: query.Equal, Value: "Searches_Automated"}},
	})
	require.NoError(t, err)
	assert.Empty(t, found.Records)
	assert.NotEmpty(t, found.Columns)
}

func TestRejectedRowsAreCounted(t *testing.T) {
	s := newTestStore(t)
	rep := &report.Report{
		Path:    "2020_Wiley_PR.tsv",
		Subtype: catalog.PR,
		Vendor:  "Wiley",
		Year:    2020,
		Rows: []report.Row{
			{"platform": "Wiley Online", "metric_type": "Searches_Platform", "vendor": "Wiley", "year": "2020", "month": "1", "metric": "4", "updated_on": "x", "file": "2020_Wiley_PR.tsv"},
			{"platform": "Wiley Online", "metric_type": "Searches_Platform", "vendor": "Wiley", "year": "2020", "month": "13", "metric": "4", "updated_on": "x", "file": "2020_Wiley_PR.tsv"},
		},
	}
	res, err := s.InsertReport(context.Background(), rep)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, int64(1), res.Failed)
}

func TestCostsJoinTheView(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeReport(t, t.TempDir(), catalog.TR_J1, "Wiley", 2020,
		titleLine("A", "Total_Item_Requests", 1, 1),
		titleLine("A", "Unique_Item_Requests", 1),
	)
	_, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)

	res, err := s.InsertCost(ctx, catalog.Title, costs.Entry{
		Entity:                     "A",
		Vendor:                     "Wiley",
		Begin:                      costs.YearMonth{Year: 2020, Month: 1},
		End:                        costs.YearMonth{Year: 2020, Month: 12},
		CostInOriginalCurrency:     decimal.NewFromInt(1200),
		OriginalCurrency:           "USD",
		CostInLocalCurrency:        decimal.NewFromInt(1560),
		CostInLocalCurrencyWithTax: decimal.NewFromInt(1800),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Records)
	require.NotEmpty(t, res.Backup)

	found, err := s.Search(ctx, catalog.TR_J1, 2020, 2020, nil)
	require.NoError(t, err)
	require.Len(t, found.Records, 2)
	for _, rec := range found.Records {
		assert.InDelta(t, 1200, rec.Float("cost_in_original_currency"), 0.001)
		assert.InDelta(t, 1560, rec.Float("cost_in_local_currency"), 0.001)
		assert.Equal(t, "USD", rec.String("original_currency"))
	}

	listed, err := s.GetCosts(ctx, catalog.Title, "Wiley", 2020, "A")
	require.NoError(t, err)
	require.Len(t, listed, 12)
	assert.True(t, decimal.NewFromInt(100).Equal(listed[0].CostInOriginalCurrency))

	data, err := os.ReadFile(res.Backup)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 13)

	deleted, err := s.DeleteCosts(ctx, catalog.Title, "A", "Wiley", costs.YearMonth{Year: 2020, Month: 7}, costs.YearMonth{Year: 2020, Month: 12})
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted.Records)
	data, err = os.ReadFile(res.Backup)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 7)
}

func TestInsertCostFileAndValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db_costs.tsv")
	content := strings.Join(costs.Columns(catalog.Database), "\t") + "\n" +
		"Academic Search\tEBSCO\t2020\t1\t10\tUSD\t13\t15\n" +
		"Academic Search\tEBSCO\t2020\t2\t10\tUSD\t13\t15\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res, err := s.InsertCostFile(ctx, catalog.Database, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Records)

	_, err = s.InsertCost(ctx, catalog.Database, costs.Entry{
		Entity: "X", Vendor: "V", OriginalCurrency: "USD",
		Begin: costs.YearMonth{Year: 2020, Month: 5},
		End:   costs.YearMonth{Year: 2020, Month: 1},
	})
	var verr *costs.ValidationError
	require.ErrorAs(t, err, &verr)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Costs[catalog.Database])
}

func TestRenameVendorIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	_, err := s.InsertFile(ctx, writeReport(t, dir, catalog.TR_J1, "Wiley", 2020, titleLine("A", "Total_Item_Requests", 4)), "Wiley", 2020)
	require.NoError(t, err)
	_, err = s.InsertCost(ctx, catalog.Title, costs.Entry{
		Entity: "A", Vendor: "Wiley", OriginalCurrency: "USD",
		Begin:                  costs.YearMonth{Year: 2020, Month: 1},
		End:                    costs.YearMonth{Year: 2020, Month: 1},
		CostInOriginalCurrency: decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	changed, err := s.RenameVendor(ctx, "Wiley", "John Wiley")
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	found, err := s.Search(ctx, catalog.TR_J1, 2020, 2020, nil)
	require.NoError(t, err)
	require.Len(t, found.Records, 1)
	assert.Equal(t, "John Wiley", found.Records[0].String("vendor"))
	assert.InDelta(t, 5, found.Records[0].Float("cost_in_original_currency"), 0.001)

	renamed, err := s.Search(ctx, catalog.TR_J1, 2020, 2020, [][]query.Clause{{{Field: "vendor", Comparator: query.Equal, Value: "Wiley"}}})
	require.NoError(t, err)
	assert.Empty(t, renamed.Records)

	// The renamed file name keeps re-imports of the renamed vendor idempotent.
	res, err := s.InsertFile(ctx, writeReport(t, dir, catalog.TR_J1, "John Wiley", 2020, titleLine("A", "Total_Item_Requests", 4)), "John Wiley", 2020)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted)

	_, err = s.RenameVendor(ctx, "", "x")
	assert.Error(t, err)
}

func TestTopNThroughStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeReport(t, t.TempDir(), catalog.TR_J1, "Wiley", 2020,
		titleLine("A", "Total_Item_Requests", 10),
		titleLine("B", "Total_Item_Requests", 10),
		titleLine("C", "Total_Item_Requests", 3),
	)
	_, err := s.InsertFile(ctx, path, "Wiley", 2020)
	require.NoError(t, err)

	top, err := s.TopN(ctx, catalog.TR_J1, 2020, 2020, "Total_Item_Requests", "", 0)
	require.NoError(t, err)
	require.Len(t, top.Records, 3)
	assert.Equal(t, []int64{1, 1, 3}, []int64{
		top.Records[0].Int(query.RankingColumn),
		top.Records[1].Int(query.RankingColumn),
		top.Records[2].Int(query.RankingColumn),
	})
	assert.Equal(t, "C", top.Records[2].String("title"))
	assert.Len(t, top.Values(0), len(top.Columns))

	chart, err := s.ChartQuery(ctx, catalog.TR_J1, 2020, 2020, "%", "Total%", "Wil%")
	require.NoError(t, err)
	assert.Len(t, chart.Records, 3)
}
