package report

import (
	"fmt"
	"path/filepath"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
)

// Row is one parsed observation keyed by catalog field name. Missing keys
// read as the empty string; absent optional attributes are stored as empty strings.
type Row map[string]string

func (r Row) Get(field string) string {
	return r[field]
}

// Values returns the row's values in field order, empty for missing keys.
func (r Row) Values(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = r[f]
	}
	return out
}

// Validate checks every key against the subtype's catalog fields.
func (r Row) Validate(subtype catalog.Subtype) error {
	for key := range r {
		if _, err := catalog.Field(subtype, key); err != nil {
			return err
		}
	}
	return nil
}

func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// headerKeys are the twelve positional header fields of a COUNTER 5 file.
var headerKeys = [12]string{
	"report_name",
	"report_id",
	"release",
	"institution_name",
	"institution_id",
	"metric_types",
	"report_filters",
	"report_attributes",
	"exceptions",
	"reporting_period",
	"created",
	"created_by",
}

type Header struct {
	ReportName       string
	ReportID         string
	Release          string
	InstitutionName  string
	InstitutionID    string
	MetricTypes      string
	ReportFilters    string
	ReportAttributes string
	Exceptions       string
	ReportingPeriod  string
	Created          string
	CreatedBy        string
}

func (h *Header) fields() [12]*string {
	return [12]*string{
		&h.ReportName,
		&h.ReportID,
		&h.Release,
		&h.InstitutionName,
		&h.InstitutionID,
		&h.MetricTypes,
		&h.ReportFilters,
		&h.ReportAttributes,
		&h.Exceptions,
		&h.ReportingPeriod,
		&h.Created,
		&h.CreatedBy,
	}
}

// Report is a parsed COUNTER 5 file with its data rows already expanded
// to one row per non-zero month.
type Report struct {
	Path    string
	Subtype catalog.Subtype
	Vendor  string
	Year    int
	Header  Header
	Rows    []Row
}

func (r *Report) FileName() string {
	return filepath.Base(r.Path)
}

// Line is one unexpanded data row: descriptive fields plus twelve monthly
// counts, January first.
type Line struct {
	Fields Row
	Months [12]int64
}

func (l Line) Total() int64 {
	var total int64
	for _, v := range l.Months {
		total += v
	}
	return total
}

// Document is a report ready to be written to a file.
type Document struct {
	Subtype catalog.Subtype
	Year    int
	Header  Header
	Lines   []Line
}

// ParseError describes why a file was rejected. Line is 1-based; zero means
// the error is not tied to a line.
type ParseError struct {
	Path     string
	Line     int
	Expected string
	Got      string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("report: %s: expected %s, got %q", e.Path, e.Expected, e.Got)
	}
	return fmt.Sprintf("report: %s:%d: expected %s, got %q", e.Path, e.Line, e.Expected, e.Got)
}
