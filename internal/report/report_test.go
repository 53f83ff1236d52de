package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trJ1 = "Report_Name\tJournal Requests (Excluding OA_Gold)\n" +
	"Report_ID\tTR_J1\n" +
	"Release\t5\n" +
	"Institution_Name\tUniversity of Prince Edward Island\n" +
	"Institution_ID\tProprietary:UPEI\n" +
	"Metric_Types\tTotal_Item_Requests; Unique_Item_Requests\n" +
	"Report_Filters\tData_Type=Journal; Access_Method=Regular\n" +
	"Report_Attributes\t\n" +
	"Exceptions\t\n" +
	"Reporting_Period\tBegin_Date=2020-01-01; End_Date=2020-12-31\n" +
	"Created\t2021-01-05T10:00:00Z\n" +
	"Created_By\tWiley\n" +
	"\n" +
	"Title\tPublisher\tPublisher_ID\tPlatform\tDOI\tProprietary_ID\tPrint_ISSN\tOnline_ISSN\tURI\tMetric_Type\tReporting_Period_Total\tJan-2020\tFeb-2020\tMar-2020\n" +
	"Journal of Things\tWiley\t\tWiley Online\t10.1/jot\tW:1\t1234-5678\t\t\tTotal_Item_Requests\t1,010\t3\t0\t1,007\n" +
	"Journal of Things\tWiley\t\tWiley Online\t10.1/jot\tW:1\t1234-5678\t\t\tUnique_Item_Requests\t2\t\t2\t0\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseExpandsMonthsAndDropsZeros(t *testing.T) {
	path := writeFile(t, "2020_Wiley_TR_J1.tsv", trJ1)

	rep, err := ParseFile(path, "Wiley", 2020)
	require.NoError(t, err)
	assert.Equal(t, catalog.TR_J1, rep.Subtype)
	assert.Equal(t, "2021-01-05T10:00:00Z", rep.Header.Created)
	require.Len(t, rep.Rows, 3)

	first := rep.Rows[0]
	assert.Equal(t, "Journal of Things", first.Get("title"))
	assert.Equal(t, "Total_Item_Requests", first.Get("metric_type"))
	assert.Equal(t, "1", first.Get("month"))
	assert.Equal(t, "3", first.Get("metric"))
	assert.Equal(t, "2020", first.Get("year"))
	assert.Equal(t, "Wiley", first.Get("vendor"))
	assert.Equal(t, "2021-01-05T10:00:00Z", first.Get("updated_on"))
	assert.Equal(t, "2020_Wiley_TR_J1.tsv", first.Get("file"))
	assert.Equal(t, "", first.Get("publisher_id"))

	assert.Equal(t, "3", rep.Rows[1].Get("month"))
	assert.Equal(t, "1007", rep.Rows[1].Get("metric"))
	assert.Equal(t, "Unique_Item_Requests", rep.Rows[2].Get("metric_type"))
	assert.Equal(t, "2", rep.Rows[2].Get("month"))

	for _, row := range rep.Rows {
		require.NoError(t, row.Validate(catalog.TR_J1))
		_, hasTotal := row["reporting_period_total"]
		assert.False(t, hasTotal)
	}
}

func TestParseInheritsHeaderMetricType(t *testing.T) {
	content := strings.Replace(trJ1, "Metric_Types\tTotal_Item_Requests; Unique_Item_Requests", "Metric_Types\tTotal_Item_Requests", 1)
	content = strings.Replace(content, "\tMetric_Type\t", "\tMetric\t", 1)
	path := writeFile(t, "2020_Wiley_TR_J1.tsv", content)

	rep, err := ParseFile(path, "Wiley", 2020)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Rows)
	for _, row := range rep.Rows {
		assert.Equal(t, "Total_Item_Requests", row.Get("metric_type"))
	}
}

func TestParseCSV(t *testing.T) {
	content := strings.ReplaceAll(trJ1, "\t", ",")
	content = strings.Replace(content, "1,010", `"1,010"`, 1)
	content = strings.Replace(content, ",1,007\n", `,"1,007"`+"\n", 1)
	path := writeFile(t, "2020_Wiley_TR_J1.csv", content)

	rep, err := ParseFile(path, "Wiley", 2020)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 3)
	assert.Equal(t, "1007", rep.Rows[1].Get("metric"))
}

func TestParseRejectsMalformedHeader(t *testing.T) {
	cases := map[string]struct {
		content string
		line    int
	}{
		"missing header line": {
			content: strings.Replace(trJ1, "Exceptions\t\n", "", 1),
			line:    9,
		},
		"unknown report id": {
			content: strings.Replace(trJ1, "Report_ID\tTR_J1", "Report_ID\tJR1", 1),
			line:    2,
		},
		"no blank line": {
			content: strings.Replace(trJ1, "Created_By\tWiley\n\n", "Created_By\tWiley\n", 1),
			line:    13,
		},
		"truncated": {
			content: strings.Join(strings.Split(trJ1, "\n")[:5], "\n"),
			line:    6,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "report.tsv", tc.content)
			_, err := ParseFile(path, "Wiley", 2020)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), err)
			assert.Equal(t, tc.line, perr.Line)
		})
	}
}

func TestParseRejectsBadRows(t *testing.T) {
	emptyTitle := strings.Replace(trJ1, "Journal of Things\tWiley\t\tWiley Online\t10.1/jot\tW:1\t1234-5678\t\t\tUnique", "\tWiley\t\tWiley Online\t10.1/jot\tW:1\t1234-5678\t\t\tUnique", 1)
	path := writeFile(t, "report.tsv", emptyTitle)
	_, err := ParseFile(path, "Wiley", 2020)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 16, perr.Line)

	badCount := strings.Replace(trJ1, "\t3\t0\t1,007", "\tthree\t0\t1,007", 1)
	path = writeFile(t, "report.tsv", badCount)
	_, err = ParseFile(path, "Wiley", 2020)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 15, perr.Line)
}

func TestParseRejectsOtherYear(t *testing.T) {
	path := writeFile(t, "2020_Wiley_TR_J1.tsv", trJ1)
	_, err := ParseFile(path, "Wiley", 2021)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 14, perr.Line)
	assert.Equal(t, "month columns for 2021", perr.Expected)
}

func TestParseValidatesArguments(t *testing.T) {
	path := writeFile(t, "report.txt", trJ1)
	_, err := ParseFile(path, "Wiley", 2020)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	path = writeFile(t, "report.tsv", trJ1)
	_, err = ParseFile(path, " ", 2020)
	require.ErrorAs(t, err, &perr)

	_, err = ParseFile(path, "Wiley", 20)
	require.ErrorAs(t, err, &perr)
}

func TestWriteThenParse(t *testing.T) {
	doc := Document{
		Subtype: catalog.DR_D1,
		Year:    2019,
		Header: Header{
			ReportName: catalog.DR_D1.Name(),
			ReportID:   "DR_D1",
			Release:    "5",
			Created:    "2020-01-10T00:00:00Z",
		},
		Lines: []Line{
			{
				Fields: Row{"database": "Academic Search", "publisher": "EBSCO", "platform": "EBSCOhost", "metric_type": "Searches_Regular"},
				Months: [12]int64{5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 7},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc, '\t'))
	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "Report_Name\tDatabase Search and Item Usage", lines[0])
	assert.Equal(t, "", lines[12])
	assert.True(t, strings.HasPrefix(lines[13], "Database\tPublisher\tPublisher_ID\tPlatform\tProprietary_ID\tMetric_Type\tReporting_Period_Total\tJan-2019"))
	assert.Contains(t, lines[14], "\t12\t5\t")

	path := filepath.Join(t.TempDir(), FileName(2019, "EBSCO", catalog.DR_D1))
	require.NoError(t, WriteFile(path, doc))
	rep, err := ParseFile(path, "EBSCO", 2019)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "1", rep.Rows[0].Get("month"))
	assert.Equal(t, "12", rep.Rows[1].Get("month"))
	assert.Equal(t, "7", rep.Rows[1].Get("metric"))
	assert.Equal(t, "2019_EBSCO_DR_D1.tsv", rep.Rows[1].Get("file"))
}

func TestRowDefaultsAndValidation(t *testing.T) {
	row := Row{"title": "T"}
	assert.Equal(t, []string{"T", ""}, row.Values([]string{"title", "doi"}))
	assert.ErrorIs(t, Row{"isbn": "1"}.Validate(catalog.TR_J1), catalog.ErrUnknownField)
}
