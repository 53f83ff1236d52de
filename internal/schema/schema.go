// Package schema derives the SQL DDL of the usage store from the field
// catalog: one base table and one aggregation view per report subtype, and
// one cost table per report family.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/samber/lo"
)

const (
	// TotalColumn is the yearly sum of metric in every view.
	TotalColumn = "reporting_period_total"

	costAlias = "costs"
)

// Quote renders an SQL identifier, escaping embedded double quotes.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(table, column string) string {
	return Quote(table) + "." + Quote(column)
}

func TableDDL(subtype catalog.Subtype) (string, error) {
	fields, err := catalog.FieldsFor(subtype)
	if err != nil {
		return "", err
	}
	keys, err := catalog.KeyFields(subtype)
	if err != nil {
		return "", err
	}
	return createTable(subtype.Table(), fields, keys), nil
}

func CostTableDDL(family catalog.Family) (string, error) {
	if _, err := catalog.ParseFamily(string(family)); err != nil {
		return "", err
	}
	keys := catalog.CostKeyFields(family)
	fields := append(append([]catalog.FieldDescriptor(nil), keys...), catalog.CostFields()...)
	return createTable(family.CostTable(), fields, keys), nil
}

func createTable(table string, fields, keys []catalog.FieldDescriptor) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(Quote(table))
	b.WriteString(" (\n")
	for _, f := range fields {
		b.WriteString("\t")
		b.WriteString(columnDef(f))
		b.WriteString(",\n")
	}
	b.WriteString("\tPRIMARY KEY(")
	b.WriteString(strings.Join(lo.Map(catalog.FieldNames(keys), func(n string, _ int) string { return Quote(n) }), ", "))
	b.WriteString(")\n)")
	return b.String()
}

func columnDef(f catalog.FieldDescriptor) string {
	parts := []string{Quote(f.Name), f.Type.String()}
	for _, c := range f.Constraints {
		parts = append(parts, constraintSQL(f.Name, c))
	}
	return strings.Join(parts, " ")
}

func constraintSQL(name string, c catalog.Constraint) string {
	col := Quote(name)
	switch c.Kind {
	case catalog.NotNull:
		return "NOT NULL"
	case catalog.NonEmpty:
		return fmt.Sprintf("CHECK(%s <> '')", col)
	case catalog.AtLeast:
		return fmt.Sprintf("CHECK(%s >= %d)", col, c.Min)
	case catalog.Positive:
		return fmt.Sprintf("CHECK(%s > 0)", col)
	case catalog.Between:
		return fmt.Sprintf("CHECK(%s BETWEEN %d AND %d)", col, c.Min, c.Max)
	default:
		panic(fmt.Sprintf("schema: unknown constraint kind %d on %s", c.Kind, name))
	}
}

// GroupFields are the non-aggregated columns of a subtype's view: the
// report fields plus metric_type, vendor and year.
func GroupFields(subtype catalog.Subtype) ([]string, error) {
	own, err := catalog.ReportFields(subtype)
	if err != nil {
		return nil, err
	}
	return append(catalog.FieldNames(own), "metric_type", "vendor", "year"), nil
}

// ViewFields returns the view's columns in select order.
func ViewFields(subtype catalog.Subtype) ([]string, error) {
	group, err := GroupFields(subtype)
	if err != nil {
		return nil, err
	}
	fields := append(group, TotalColumn)
	fields = append(fields, catalog.MonthNames()...)
	return append(fields, catalog.FieldNames(catalog.CostFields())...), nil
}

// ChartFields is the projection used by chart and top-N queries: the view
// minus descriptive identifiers that vary between vendors.
func ChartFields(subtype catalog.Subtype) ([]string, error) {
	family, err := catalog.FamilyOf(subtype)
	if err != nil {
		return nil, err
	}
	fields := []string{catalog.EntityFieldFor(family).Name, "metric_type", "vendor", "year"}
	fields = append(fields, catalog.MonthNames()...)
	fields = append(fields, TotalColumn)
	return append(fields, catalog.FieldNames(catalog.CostFields())...), nil
}

func ViewDDL(subtype catalog.Subtype) (string, error) {
	family, err := catalog.FamilyOf(subtype)
	if err != nil {
		return "", err
	}
	group, err := GroupFields(subtype)
	if err != nil {
		return "", err
	}
	table := subtype.Table()
	entity := catalog.EntityFieldFor(family).Name

	groupCols := lo.Map(group, func(n string, _ int) string { return qualified(table, n) })
	selects := lo.Map(group, func(n string, _ int) string {
		return qualified(table, n) + " AS " + Quote(n)
	})
	selects = append(selects, fmt.Sprintf("SUM(%s) AS %s", qualified(table, "metric"), Quote(TotalColumn)))
	for i, month := range catalog.MonthNames() {
		selects = append(selects, fmt.Sprintf(
			"COALESCE(SUM(CASE WHEN %s = %d THEN %s END), 0) AS %s",
			qualified(table, "month"), i+1, qualified(table, "metric"), Quote(month),
		))
	}
	for _, f := range catalog.CostFields() {
		selects = append(selects, qualified(costAlias, f.Name)+" AS "+Quote(f.Name))
	}

	join := lo.Map([]string{entity, "vendor", "year"}, func(n string, _ int) string {
		return qualified(costAlias, n) + " = " + qualified(table, n)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW IF NOT EXISTS %s AS\nSELECT\n\t", Quote(subtype.View()))
	b.WriteString(strings.Join(selects, ",\n\t"))
	fmt.Fprintf(&b, "\nFROM %s\nLEFT JOIN (\n%s\n) AS %s ON %s\nGROUP BY %s",
		Quote(table),
		yearlyCosts(family),
		Quote(costAlias),
		strings.Join(join, " AND "),
		strings.Join(groupCols, ", "),
	)
	return b.String(), nil
}

// yearlyCosts folds the monthly cost rows of a family into one row per
// entity, vendor and year so the view joins at most one cost row per group.
func yearlyCosts(family catalog.Family) string {
	entity := Quote(catalog.EntityFieldFor(family).Name)
	keys := []string{entity, Quote("vendor"), Quote("year")}
	cols := append([]string(nil), keys...)
	for _, f := range catalog.CostFields() {
		agg := "SUM"
		if f.Type == catalog.Text {
			agg = "MAX"
		}
		cols = append(cols, fmt.Sprintf("%s(%s) AS %s", agg, Quote(f.Name), Quote(f.Name)))
	}
	return fmt.Sprintf("\tSELECT %s\n\tFROM %s\n\tGROUP BY %s",
		strings.Join(cols, ", "),
		Quote(family.CostTable()),
		strings.Join(keys, ", "),
	)
}

// Setup returns the ordered statements that build the whole store. With
// recreate every view is dropped first, then every table.
func Setup(recreate bool) ([]string, error) {
	var stmts []string
	if recreate {
		stmts = append(stmts, DropStatements()...)
	}
	for _, subtype := range catalog.Subtypes() {
		ddl, err := TableDDL(subtype)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl)
	}
	for _, family := range catalog.Families() {
		ddl, err := CostTableDDL(family)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl)
	}
	for _, subtype := range catalog.Subtypes() {
		ddl, err := ViewDDL(subtype)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl)
	}
	return stmts, nil
}

func DropStatements() []string {
	var stmts []string
	for _, subtype := range catalog.Subtypes() {
		stmts = append(stmts, "DROP VIEW IF EXISTS "+Quote(subtype.View()))
	}
	for _, subtype := range catalog.Subtypes() {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+Quote(subtype.Table()))
	}
	for _, family := range catalog.Families() {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+Quote(family.CostTable()))
	}
	return stmts
}

// MonthIndex maps a view month column back to its calendar month.
func MonthIndex(column string) (time.Month, bool) {
	idx := lo.IndexOf(catalog.MonthNames(), column)
	if idx < 0 {
		return 0, false
	}
	return time.Month(idx + 1), true
}
