// Package export writes query results to spreadsheet workbooks.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// WriteWorkbook writes one sheet with a header row followed by rows. Column
// names are shown as report headers; numbers stay numeric and nil cells
// stay empty.
func WriteWorkbook(path, sheet string, columns []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet = SheetName(sheet)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("export: name sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = catalog.ColumnHeader(c)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	if len(columns) > 0 {
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("export: freeze header: %w", err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: row %d: %w", i+1, err)
		}
		values := make([]any, len(row))
		copy(values, row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("export: write row %d: %w", i+1, err)
		}
	}

	return save(f, path)
}

// WriteResult writes a store query result as one sheet.
func WriteResult(path, sheet string, res store.Result) error {
	rows := make([][]any, len(res.Records))
	for i := range res.Records {
		rows[i] = res.Values(i)
	}
	return WriteWorkbook(path, sheet, res.Columns, rows)
}

// SheetName strips characters Excel rejects and truncates to its limit.
func SheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if name == "" {
		return "Sheet1"
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

func save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: create dir: %w", err)
	}
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("export: create tmp file: %w", err)
	}
	if _, err := f.WriteTo(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export: write workbook: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("export: close tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("export: rename tmp file: %w", err)
	}
	return nil
}
