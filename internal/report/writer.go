package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
)

// Write renders doc as a COUNTER 5 file. Columns follow the catalog order of
// the subtype's report fields, then Metric_Type, Reporting_Period_Total and
// the twelve months of doc.Year.
func Write(w io.Writer, doc Document, delim rune) error {
	fields, err := catalog.ReportFields(doc.Subtype)
	if err != nil {
		return err
	}
	names := catalog.FieldNames(fields)

	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	cw.Comma = delim

	values := doc.Header.fields()
	for i, key := range headerKeys {
		if err := cw.Write([]string{catalog.ColumnHeader(key), *values[i]}); err != nil {
			return fmt.Errorf("report: write header: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}

	columns := make([]string, 0, len(names)+14)
	for _, name := range names {
		columns = append(columns, catalog.ColumnHeader(name))
	}
	columns = append(columns, catalog.ColumnHeader("metric_type"), catalog.ColumnHeader("reporting_period_total"))
	for m := time.January; m <= time.December; m++ {
		columns = append(columns, catalog.MonthColumn(doc.Year, m))
	}
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("report: write columns: %w", err)
	}

	for _, line := range doc.Lines {
		record := line.Fields.Values(names)
		record = append(record, line.Fields.Get("metric_type"), strconv.FormatInt(line.Total(), 10))
		for _, v := range line.Months {
			record = append(record, strconv.FormatInt(v, 10))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: write rows: %w", err)
	}
	return bw.Flush()
}

// WriteFile writes doc to path through a temporary file so readers never
// observe a partial report.
func WriteFile(path string, doc Document) error {
	delim, err := Delimiter(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("report: create tmp file: %w", err)
	}
	if err := Write(file, doc, delim); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("report: close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("report: rename tmp file: %w", err)
	}
	return nil
}

// FileName is the conventional report file name, <year>_<vendor>_<subtype>.tsv.
func FileName(year int, vendor string, subtype catalog.Subtype) string {
	return fmt.Sprintf("%d_%s_%s.tsv", year, vendor, subtype)
}
