package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/samber/lo"
)

type parseState int

const (
	expectHeaderLine parseState = iota
	expectBlankLine
	expectColumnHeader
	expectDataRows
)

// Delimiter picks the cell separator from the file extension.
func Delimiter(path string) (rune, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv":
		return '\t', nil
	case ".csv":
		return ',', nil
	default:
		return 0, &ParseError{Path: path, Expected: "a .tsv or .csv file", Got: filepath.Ext(path)}
	}
}

func ParseFile(path, vendor string, year int) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer file.Close()
	return Parse(file, path, vendor, year)
}

// Parse reads a COUNTER 5 report: twelve header lines, one blank line, the
// column header row and the data rows. Any violation rejects the whole file.
func Parse(r io.Reader, path, vendor string, year int) (*Report, error) {
	delim, err := Delimiter(path)
	if err != nil {
		return nil, err
	}
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return nil, &ParseError{Path: path, Expected: "a vendor name", Got: vendor}
	}
	if year < 1000 || year > 9999 {
		return nil, &ParseError{Path: path, Expected: "a four digit year", Got: strconv.Itoa(year)}
	}

	p := &parser{
		report: &Report{Path: path, Vendor: vendor, Year: year},
		delim:  delim,
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		cells, err := SplitLine(scanner.Text(), delim)
		if err != nil {
			return nil, &ParseError{Path: path, Line: lineNo, Expected: "a delimited line", Got: err.Error()}
		}
		if err := p.consume(lineNo, cells); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}

	switch p.state {
	case expectHeaderLine:
		return nil, &ParseError{Path: path, Line: lineNo + 1, Expected: "12 header lines", Got: fmt.Sprintf("%d lines", p.headerLines)}
	case expectBlankLine:
		return nil, &ParseError{Path: path, Line: lineNo + 1, Expected: "a blank line", Got: "end of file"}
	case expectColumnHeader:
		return nil, &ParseError{Path: path, Line: lineNo + 1, Expected: "the column header row", Got: "end of file"}
	}
	return p.report, nil
}

type parser struct {
	report      *Report
	delim       rune
	state       parseState
	headerLines int

	fields     []catalog.FieldDescriptor
	columns    map[string]int
	monthIndex [12]int
}

func (p *parser) consume(lineNo int, cells []string) error {
	switch p.state {
	case expectHeaderLine:
		return p.headerLine(lineNo, cells)
	case expectBlankLine:
		if !blank(cells) {
			return p.errorf(lineNo, "a blank line", strings.Join(cells, string(p.delim)))
		}
		p.state = expectColumnHeader
		return nil
	case expectColumnHeader:
		return p.columnHeader(lineNo, cells)
	default:
		if blank(cells) {
			return nil
		}
		return p.dataRow(lineNo, cells)
	}
}

func (p *parser) errorf(lineNo int, expected, got string) error {
	return &ParseError{Path: p.report.Path, Line: lineNo, Expected: expected, Got: got}
}

func (p *parser) headerLine(lineNo int, cells []string) error {
	idx := p.headerLines
	key := headerKeys[idx]
	first := ""
	if len(cells) > 0 {
		first = cells[0]
	}
	if catalog.FieldName(first) != key {
		return p.errorf(lineNo, "header "+catalog.ColumnHeader(key), first)
	}
	value := ""
	if len(cells) > 1 {
		value = strings.TrimSpace(cells[1])
	}
	*p.report.Header.fields()[idx] = value
	p.headerLines++

	if key == "report_id" {
		subtype, err := catalog.ParseSubtype(value)
		if err != nil {
			return p.errorf(lineNo, "a known Report_ID", value)
		}
		p.report.Subtype = subtype
	}
	if p.headerLines == len(headerKeys) {
		p.state = expectBlankLine
	}
	return nil
}

func (p *parser) columnHeader(lineNo int, cells []string) error {
	fields, err := catalog.ReportFields(p.report.Subtype)
	if err != nil {
		return err
	}
	p.fields = fields
	p.columns = make(map[string]int, len(cells))
	for i, cell := range cells {
		name := catalog.FieldName(cell)
		if _, dup := p.columns[name]; !dup {
			p.columns[name] = i
		}
	}

	entity := catalog.EntityFieldFor(p.report.Subtype.Family()).Name
	if _, ok := p.columns[entity]; !ok {
		return p.errorf(lineNo, "a "+catalog.ColumnHeader(entity)+" column", strings.Join(cells, string(p.delim)))
	}
	for m := time.January; m <= time.December; m++ {
		idx, ok := p.columns[catalog.FieldName(catalog.MonthColumn(p.report.Year, m))]
		if !ok {
			idx = -1
		}
		p.monthIndex[m-1] = idx
	}
	if lo.EveryBy(p.monthIndex[:], func(idx int) bool { return idx < 0 }) {
		return p.errorf(lineNo, "month columns for "+strconv.Itoa(p.report.Year), strings.Join(cells, string(p.delim)))
	}
	p.state = expectDataRows
	return nil
}

func (p *parser) cell(cells []string, column string) string {
	idx, ok := p.columns[column]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func (p *parser) dataRow(lineNo int, cells []string) error {
	rep := p.report
	base := make(Row, len(p.fields)+7)
	for _, f := range p.fields {
		if _, ok := p.columns[f.Name]; ok {
			base[f.Name] = p.cell(cells, f.Name)
		}
	}

	metricType := p.cell(cells, "metric_type")
	if metricType == "" {
		metricType = strings.TrimSpace(rep.Header.MetricTypes)
	}
	base["metric_type"] = metricType
	base["vendor"] = rep.Vendor
	base["year"] = strconv.Itoa(rep.Year)
	base["updated_on"] = rep.Header.Created
	base["file"] = rep.FileName()

	required, err := catalog.RequiredFields(rep.Subtype)
	if err != nil {
		return err
	}
	if missing, ok := lo.Find(required, func(f catalog.FieldDescriptor) bool { return base.Get(f.Name) == "" }); ok {
		return p.errorf(lineNo, "a non-empty "+catalog.ColumnHeader(missing.Name), "")
	}

	for m, idx := range p.monthIndex {
		if idx < 0 || idx >= len(cells) {
			continue
		}
		count, err := ParseCount(cells[idx])
		if err != nil {
			return p.errorf(lineNo, "a count for "+catalog.MonthColumn(rep.Year, time.Month(m+1)), cells[idx])
		}
		if count <= 0 {
			continue
		}
		row := base.Clone()
		row["month"] = strconv.Itoa(m + 1)
		row["metric"] = strconv.FormatInt(count, 10)
		rep.Rows = append(rep.Rows, row)
	}
	return nil
}

// ParseCount reads a monthly count; thousands separators are allowed and an
// empty cell counts as zero.
func ParseCount(v string) (int64, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// SplitLine splits one physical line into cells. Blank lines yield no cells.
func SplitLine(line string, delim rune) ([]string, error) {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	cells, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	return cells, err
}

func blank(cells []string) bool {
	return lo.EveryBy(cells, func(c string) bool { return strings.TrimSpace(c) == "" })
}
