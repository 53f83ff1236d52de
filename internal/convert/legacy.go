// Package convert turns COUNTER 4 (R4) reports into COUNTER 5 report files
// the ingestion pipeline understands.
package convert

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/samber/lo"
)

// Kind is a COUNTER 4 report identifier.
type Kind string

const (
	JR1 Kind = "JR1"
	JR2 Kind = "JR2"
	BR1 Kind = "BR1"
	BR2 Kind = "BR2"
	BR3 Kind = "BR3"
	DB1 Kind = "DB1"
	DB2 Kind = "DB2"
	PR1 Kind = "PR1"
)

// activity maps a legacy activity or denial category, matched by
// substring, to a COUNTER 5 metric type.
type activity struct {
	match  string
	metric string
}

var denials = []activity{
	{match: "limit exceeded", metric: "Limit_Exceeded"},
	{match: "not licen", metric: "No_License"},
}

type kindInfo struct {
	kind    Kind
	title   string
	subtype catalog.Subtype
	// metric is used when the report has no activity column.
	metric     string
	activities []activity
}

var kinds = []kindInfo{
	{kind: JR1, title: "journal report 1", subtype: catalog.TR_J1, metric: "Total_Item_Requests"},
	{kind: JR2, title: "journal report 2", subtype: catalog.TR_J2, activities: denials},
	{kind: BR1, title: "book report 1", subtype: catalog.TR_B1, metric: "Total_Item_Requests"},
	{kind: BR2, title: "book report 2", subtype: catalog.TR_B1, metric: "Total_Item_Requests"},
	{kind: BR3, title: "book report 3", subtype: catalog.TR_B2, activities: denials},
	{kind: DB1, title: "database report 1", subtype: catalog.DR_D1, activities: []activity{
		{match: "regular searches", metric: "Searches_Regular"},
		{match: "federated and automated", metric: "Searches_Automated"},
		{match: "result clicks", metric: catalog.InvestigationsMetric},
		{match: "record views", metric: catalog.InvestigationsMetric},
	}},
	{kind: DB2, title: "database report 2", subtype: catalog.DR_D2, activities: denials},
	{kind: PR1, title: "platform report 1", subtype: catalog.PR_P1, activities: []activity{
		{match: "regular searches", metric: "Searches_Platform"},
		{match: "result clicks", metric: catalog.InvestigationsMetric},
		{match: "record views", metric: catalog.InvestigationsMetric},
	}},
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// KindFromTitle reads the report kind from the first header cell, e.g.
// "Journal Report 1 (R4)".
func KindFromTitle(title string) (Kind, error) {
	words := strings.Fields(normalize(title))
	for _, info := range kinds {
		want := strings.Fields(info.title)
		if len(words) >= len(want) && strings.Join(words[:len(want)], " ") == info.title {
			return info.kind, nil
		}
	}
	return "", fmt.Errorf("convert: unrecognized legacy report %q", title)
}

func lookup(kind Kind) (kindInfo, bool) {
	return lo.Find(kinds, func(k kindInfo) bool { return k.kind == kind })
}

// Subtype returns the COUNTER 5 subtype a legacy kind converts to.
func (k Kind) Subtype() (catalog.Subtype, error) {
	info, ok := lookup(k)
	if !ok {
		return "", fmt.Errorf("convert: unknown legacy kind %q", k)
	}
	return info.subtype, nil
}

func (info kindInfo) metricFor(activityCell string) string {
	if len(info.activities) == 0 {
		return info.metric
	}
	norm := normalize(activityCell)
	for _, a := range info.activities {
		if strings.Contains(norm, a.match) {
			return a.metric
		}
	}
	return ""
}

// legacyColumns maps normalized R4 column headers to catalog fields.
var legacyColumns = map[string]string{
	"publisher":              "publisher",
	"platform":               "platform",
	"journal doi":            "doi",
	"book doi":               "doi",
	"doi":                    "doi",
	"proprietary identifier": "proprietary_id",
	"print issn":             "print_issn",
	"online issn":            "online_issn",
	"issn":                   "print_issn",
	"isbn":                   "isbn",
}

var activityColumns = []string{"user activity", "access denied category"}

const totalForAll = "total for all"

// Sheet is a parsed legacy report: one Line per data row and year, with
// descriptive fields already renamed to catalog fields of Subtype.
type Sheet struct {
	Path            string
	Kind            Kind
	Subtype         catalog.Subtype
	InstitutionName string
	Created         string
	Lines           []YearLine
	Skipped         int
}

// YearLine is a converted row for one calendar year.
type YearLine struct {
	Year int
	Line report.Line
}

func ParseLegacyFile(path string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("convert: open %s: %w", path, err)
	}
	defer file.Close()
	return ParseLegacy(file, path)
}

// ParseLegacy reads an R4 report. The header block runs until the first row
// holding a Mmm-YYYY month column; that row names the columns. Rows whose
// entity starts with "total for all" and rows with an unmapped activity are
// skipped.
func ParseLegacy(r io.Reader, path string) (*Sheet, error) {
	delim, err := report.Delimiter(path)
	if err != nil {
		return nil, err
	}

	var lines [][]string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		cells, err := report.SplitLine(scanner.Text(), delim)
		if err != nil {
			return nil, &report.ParseError{Path: path, Line: len(lines) + 1, Expected: "a delimited line", Got: err.Error()}
		}
		lines = append(lines, cells)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("convert: read %s: %w", path, err)
	}
	if len(lines) == 0 || len(lines[0]) == 0 {
		return nil, &report.ParseError{Path: path, Line: 1, Expected: "a report title", Got: ""}
	}

	kind, err := KindFromTitle(lines[0][0])
	if err != nil {
		return nil, &report.ParseError{Path: path, Line: 1, Expected: "a COUNTER 4 report title", Got: lines[0][0]}
	}
	info, _ := lookup(kind)
	sheet := &Sheet{Path: path, Kind: kind, Subtype: info.subtype}

	headerIdx := -1
	for i, cells := range lines {
		if lo.ContainsBy(cells, isMonthColumn) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &report.ParseError{Path: path, Line: len(lines) + 1, Expected: "a column header with month columns", Got: "end of file"}
	}
	sheet.readHeaderBlock(lines[:headerIdx])

	cols, err := newColumnMap(info, lines[headerIdx])
	if err != nil {
		return nil, &report.ParseError{Path: path, Line: headerIdx + 1, Expected: "legacy columns", Got: err.Error()}
	}

	for i := headerIdx + 1; i < len(lines); i++ {
		cells := lines[i]
		if blankCells(cells) {
			continue
		}
		entity := strings.TrimSpace(cells[0])
		if strings.HasPrefix(strings.ToLower(entity), totalForAll) {
			continue
		}
		if entity == "" {
			sheet.Skipped++
			continue
		}
		metric := info.metric
		if cols.activity >= 0 {
			metric = info.metricFor(cell(cells, cols.activity))
		}
		if metric == "" {
			sheet.Skipped++
			continue
		}
		yearLines, err := cols.lines(sheet.Subtype, cells, entity, metric)
		if err != nil {
			return nil, &report.ParseError{Path: path, Line: i + 1, Expected: "monthly counts", Got: err.Error()}
		}
		sheet.Lines = append(sheet.Lines, yearLines...)
	}
	return sheet, nil
}

// readHeaderBlock picks the customer name from the second line and the run
// date, which R4 puts on the line after a "Date run:" label.
func (s *Sheet) readHeaderBlock(block [][]string) {
	if len(block) > 1 && len(block[1]) > 0 {
		s.InstitutionName = strings.TrimSpace(block[1][0])
	}
	for i, cells := range block {
		if len(cells) == 0 || normalize(strings.TrimSuffix(strings.TrimSpace(cells[0]), ":")) != "date run" {
			continue
		}
		if len(cells) > 1 && strings.TrimSpace(cells[1]) != "" {
			s.Created = strings.TrimSpace(cells[1])
		} else if i+1 < len(block) && len(block[i+1]) > 0 {
			s.Created = strings.TrimSpace(block[i+1][0])
		}
		return
	}
}

type monthColumn struct {
	index int
	year  int
	month time.Month
}

type columnMap struct {
	fields   map[string]int
	activity int
	months   []monthColumn
}

func newColumnMap(info kindInfo, header []string) (*columnMap, error) {
	cols := &columnMap{fields: map[string]int{}, activity: -1}
	entity := catalog.EntityFieldFor(info.subtype.Family()).Name
	cols.fields[entity] = 0

	for i, h := range header {
		norm := normalize(h)
		if t, err := time.Parse("Jan-2006", strings.TrimSpace(h)); err == nil {
			cols.months = append(cols.months, monthColumn{index: i, year: t.Year(), month: t.Month()})
			continue
		}
		if lo.Contains(activityColumns, norm) {
			cols.activity = i
			continue
		}
		if i == 0 {
			continue
		}
		field, ok := legacyColumns[norm]
		if !ok {
			continue
		}
		if _, err := catalog.Field(info.subtype, field); err != nil {
			continue
		}
		if _, dup := cols.fields[field]; !dup {
			cols.fields[field] = i
		}
	}
	if len(info.activities) > 0 && cols.activity < 0 {
		return nil, fmt.Errorf("%s has no activity column", info.kind)
	}
	return cols, nil
}

func (c *columnMap) lines(subtype catalog.Subtype, cells []string, entity, metric string) ([]YearLine, error) {
	fields := report.Row{"metric_type": metric}
	for field, idx := range c.fields {
		fields[field] = cell(cells, idx)
	}
	fields[catalog.EntityFieldFor(subtype.Family()).Name] = entity

	byYear := map[int]*report.Line{}
	var years []int
	for _, m := range c.months {
		count, err := report.ParseCount(cell(cells, m.index))
		if err != nil {
			return nil, err
		}
		line, ok := byYear[m.year]
		if !ok {
			line = &report.Line{Fields: fields}
			byYear[m.year] = line
			years = append(years, m.year)
		}
		line.Months[m.month-1] += count
	}

	out := make([]YearLine, 0, len(years))
	for _, y := range years {
		line := *byYear[y]
		line.Fields = line.Fields.Clone()
		out = append(out, YearLine{Year: y, Line: line})
	}
	return out, nil
}

func isMonthColumn(cell string) bool {
	_, err := time.Parse("Jan-2006", strings.TrimSpace(cell))
	return err == nil
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func blankCells(cells []string) bool {
	return lo.EveryBy(cells, func(c string) bool { return strings.TrimSpace(c) == "" })
}
