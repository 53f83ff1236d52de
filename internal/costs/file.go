package costs

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Columns is the header of a family's cost file: the cost table's key
// fields followed by the cost fields.
func Columns(family catalog.Family) []string {
	fields := append(catalog.CostKeyFields(family), catalog.CostFields()...)
	return catalog.FieldNames(fields)
}

// ParseFile reads a tab separated cost file whose header row names the cost
// table columns. Every record is validated; the first bad line rejects the
// file.
func ParseFile(family catalog.Family, path string) ([]Record, error) {
	if _, err := catalog.ParseFamily(string(family)); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("costs: open %s: %w", path, err)
	}
	defer file.Close()
	return Parse(family, file)
}

func Parse(family catalog.Family, r io.Reader) ([]Record, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Message: "cost file is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("costs: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[catalog.FieldName(h)] = i
	}
	for _, col := range Columns(family) {
		if _, ok := index[col]; !ok {
			return nil, &ValidationError{Message: "cost file is missing column " + col}
		}
	}

	entity := catalog.EntityFieldFor(family).Name
	var records []Record
	line := 1
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("costs: read line %d: %w", line, err)
		}
		if lo.EveryBy(cells, func(c string) bool { return strings.TrimSpace(c) == "" }) {
			continue
		}
		get := func(col string) string {
			idx := index[col]
			if idx >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[idx])
		}

		rec, err := parseRecord(entity, get)
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d", line), Err: err}
		}
		if err := rec.Validate(); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("line %d", line), Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(entity string, get func(string) string) (Record, error) {
	rec := Record{
		Entity:           get(entity),
		Vendor:           get("vendor"),
		OriginalCurrency: get("original_currency"),
	}
	var err error
	if rec.Year, err = parseInt("year", get("year")); err != nil {
		return rec, err
	}
	if rec.Month, err = parseInt("month", get("month")); err != nil {
		return rec, err
	}
	if rec.CostInOriginalCurrency, err = parseAmount("cost_in_original_currency", get("cost_in_original_currency")); err != nil {
		return rec, err
	}
	if rec.CostInLocalCurrency, err = parseAmount("cost_in_local_currency", get("cost_in_local_currency")); err != nil {
		return rec, err
	}
	if rec.CostInLocalCurrencyWithTax, err = parseAmount("cost_in_local_currency_with_tax", get("cost_in_local_currency_with_tax")); err != nil {
		return rec, err
	}
	return rec, nil
}

// SortForBackup orders records by vendor, year and entity, then month.
func SortForBackup(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Month < b.Month
	})
}

// WriteBackup writes records in the cost file format read by Parse.
func WriteBackup(w io.Writer, family catalog.Family, records []Record) error {
	sorted := append([]Record(nil), records...)
	SortForBackup(sorted)

	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	cw.Comma = '\t'
	if err := cw.Write(Columns(family)); err != nil {
		return fmt.Errorf("costs: write backup header: %w", err)
	}
	for _, r := range sorted {
		if err := cw.Write([]string{
			r.Entity,
			r.Vendor,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			formatAmount(r.CostInOriginalCurrency),
			r.OriginalCurrency,
			formatAmount(r.CostInLocalCurrency),
			formatAmount(r.CostInLocalCurrencyWithTax),
		}); err != nil {
			return fmt.Errorf("costs: write backup row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("costs: write backup: %w", err)
	}
	return bw.Flush()
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// BackupFileName is the backup file kept for a family's cost table.
func BackupFileName(family catalog.Family) string {
	return family.CostTable() + ".tsv"
}

// WriteBackupFile replaces the backup at path through a temporary file.
func WriteBackupFile(path string, family catalog.Family, records []Record) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("costs: create backup: %w", err)
	}
	if err := WriteBackup(file, family, records); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("costs: close backup: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("costs: rename backup: %w", err)
	}
	return nil
}
