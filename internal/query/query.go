// Package query builds the parameterized DML the store runs: ingestion
// replaces and deletes, vendor renames, searches over the aggregation
// views, chart projections and ranked top-N queries. Identifiers come from
// the catalog and are always quoted; every value is bound through a
// positional ? placeholder.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/janekbaraniewski/counterstats/internal/schema"
	"github.com/samber/lo"
)

var (
	ErrInvalidComparator = errors.New("query: invalid comparator")
	ErrEmptyGroup        = errors.New("query: empty clause group")
	ErrInvalidClause     = errors.New("query: invalid clause")
)

// Statement is one SQL statement and its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Batch is one statement executed once per argument tuple.
type Batch struct {
	SQL  string
	Rows [][]any
}

func build(b sq.Sqlizer) (Statement, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("query: build: %w", err)
	}
	return Statement{SQL: sql, Args: args}, nil
}

func quoteAll(names []string) []string {
	return lo.Map(names, func(n string, _ int) string { return schema.Quote(n) })
}

func col(table, name string) string {
	return schema.Quote(table) + "." + schema.Quote(name)
}

// replaceInto returns a REPLACE INTO statement with one ? per column.
func replaceInto(table string, columns []string) (string, error) {
	sql, _, err := sq.Replace(schema.Quote(table)).
		Columns(quoteAll(columns)...).
		Values(make([]any, len(columns))...).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("query: build replace: %w", err)
	}
	return sql, nil
}

// Replace builds the ingestion insert for a subtype. Rows are bound in
// catalog column order; missing optional fields are bound as empty strings.
func Replace(subtype catalog.Subtype, rows []report.Row) (Batch, error) {
	fields, err := catalog.FieldsFor(subtype)
	if err != nil {
		return Batch{}, err
	}
	sql, err := replaceInto(subtype.Table(), catalog.FieldNames(fields))
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{SQL: sql, Rows: make([][]any, 0, len(rows))}
	for _, row := range rows {
		if err := row.Validate(subtype); err != nil {
			return Batch{}, err
		}
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = bindValue(f, row.Get(f.Name))
		}
		batch.Rows = append(batch.Rows, args)
	}
	return batch, nil
}

func bindValue(f catalog.FieldDescriptor, v string) any {
	switch f.Type {
	case catalog.Integer:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case catalog.Real:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return v
}

func DeleteByFile(subtype catalog.Subtype, file string) (Statement, error) {
	if _, err := catalog.FamilyOf(subtype); err != nil {
		return Statement{}, err
	}
	return build(sq.Delete(schema.Quote(subtype.Table())).
		Where(schema.Quote("file")+" = ?", file))
}

// RenameVendor renames a vendor across every base table and cost table.
// Base tables also rewrite the vendor segment of the stored file name.
func RenameVendor(oldName, newName string) ([]Statement, error) {
	oldName, newName = strings.TrimSpace(oldName), strings.TrimSpace(newName)
	if oldName == "" || newName == "" {
		return nil, errors.New("query: vendor names must not be empty")
	}

	var stmts []Statement
	for _, subtype := range catalog.Subtypes() {
		fileExpr := sq.Expr(
			"REPLACE("+schema.Quote("file")+", '_' || ? || '_', '_' || ? || '_')",
			oldName, newName,
		)
		stmt, err := build(sq.Update(schema.Quote(subtype.Table())).
			Set(schema.Quote("vendor"), newName).
			Set(schema.Quote("file"), fileExpr).
			Where(schema.Quote("vendor")+" = ?", oldName))
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	for _, family := range catalog.Families() {
		stmt, err := build(sq.Update(schema.Quote(family.CostTable())).
			Set(schema.Quote("vendor"), newName).
			Where(schema.Quote("vendor")+" = ?", oldName))
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func yearRange(column string, startYear, endYear int) sq.And {
	return sq.And{
		sq.Expr(column+" >= ?", startYear),
		sq.Expr(column+" <= ?", endYear),
	}
}

func validateYears(startYear, endYear int) error {
	if startYear > endYear {
		return fmt.Errorf("query: start year %d is after end year %d", startYear, endYear)
	}
	return nil
}

// Search selects every view column of a subtype within the year range.
// groups is a conjunction of disjunctions: clauses inside a group are OR-ed
// and the groups are AND-ed with each other and with the year bounds.
func Search(subtype catalog.Subtype, startYear, endYear int, groups [][]Clause) (Statement, error) {
	fields, err := schema.ViewFields(subtype)
	if err != nil {
		return Statement{}, err
	}
	if err := validateYears(startYear, endYear); err != nil {
		return Statement{}, err
	}

	where := sq.And{yearRange(schema.Quote("year"), startYear, endYear)}
	for _, group := range groups {
		if len(group) == 0 {
			return Statement{}, ErrEmptyGroup
		}
		or := make(sq.Or, 0, len(group))
		for _, clause := range group {
			if !lo.Contains(fields, clause.Field) {
				return Statement{}, fmt.Errorf("%w: %q in %s", catalog.ErrUnknownField, clause.Field, subtype.View())
			}
			expr, err := clause.sql()
			if err != nil {
				return Statement{}, err
			}
			or = append(or, expr)
		}
		where = append(where, or)
	}

	entity := catalog.EntityFieldFor(subtype.Family()).Name
	return build(sq.Select(quoteAll(fields)...).
		From(schema.Quote(subtype.View())).
		Where(where).
		OrderBy(schema.Quote("year"), schema.Quote(entity), schema.Quote("metric_type")))
}

// Chart selects the chart projection of a subtype's view filtered by LIKE
// patterns on entity, metric type and vendor.
func Chart(subtype catalog.Subtype, startYear, endYear int, entity, metricType, vendor string) (Statement, error) {
	fields, err := schema.ChartFields(subtype)
	if err != nil {
		return Statement{}, err
	}
	if err := validateYears(startYear, endYear); err != nil {
		return Statement{}, err
	}
	entityCol := catalog.EntityFieldFor(subtype.Family()).Name
	return build(sq.Select(quoteAll(fields)...).
		From(schema.Quote(subtype.View())).
		Where(yearRange(schema.Quote("year"), startYear, endYear)).
		Where(sq.Like{schema.Quote(entityCol): entity}).
		Where(sq.Like{schema.Quote("metric_type"): metricType}).
		Where(sq.Like{schema.Quote("vendor"): vendor}).
		OrderBy(schema.Quote("year")))
}

const (
	dataAlias   = "data"
	totalsAlias = "totals"

	// TotalColumn and RankingColumn are appended to every top-N row.
	TotalColumn   = "total"
	RankingColumn = "ranking"
)

// TopNColumns returns the column order of TopN results.
func TopNColumns(subtype catalog.Subtype) ([]string, error) {
	fields, err := schema.ChartFields(subtype)
	if err != nil {
		return nil, err
	}
	return append(fields, TotalColumn, RankingColumn), nil
}

// TopN ranks the entities of a subtype by their summed yearly totals for
// one metric type. Entities with equal totals share a rank and the next
// rank is skipped. vendor may be empty to rank across vendors; n <= 0
// returns every ranked row.
func TopN(subtype catalog.Subtype, startYear, endYear int, metricType, vendor string, n int) (Statement, error) {
	fields, err := schema.ChartFields(subtype)
	if err != nil {
		return Statement{}, err
	}
	if err := validateYears(startYear, endYear); err != nil {
		return Statement{}, err
	}
	view := schema.Quote(subtype.View())
	entity := catalog.EntityFieldFor(subtype.Family()).Name

	filter := func(b sq.SelectBuilder) sq.SelectBuilder {
		b = b.From(view).
			Where(yearRange(schema.Quote("year"), startYear, endYear)).
			Where(schema.Quote("metric_type")+" = ?", metricType)
		if vendor != "" {
			b = b.Where(schema.Quote("vendor")+" = ?", vendor)
		}
		return b
	}

	data := filter(sq.Select(quoteAll(fields)...))

	sum := "SUM(" + schema.Quote(schema.TotalColumn) + ")"
	groupKeys := quoteAll([]string{entity, "vendor", "metric_type"})
	totals := filter(sq.Select(groupKeys...).
		Column(sum + " AS " + schema.Quote(TotalColumn)).
		Column("RANK() OVER (ORDER BY " + sum + " DESC) AS " + schema.Quote(RankingColumn))).
		GroupBy(groupKeys...)

	on := lo.Map([]string{entity, "vendor", "metric_type"}, func(n string, _ int) string {
		return col(dataAlias, n) + " = " + col(totalsAlias, n)
	})

	outer := sq.Select(lo.Map(fields, func(n string, _ int) string { return col(dataAlias, n) })...).
		Column(col(totalsAlias, TotalColumn)).
		Column(col(totalsAlias, RankingColumn)).
		FromSelect(data, dataAlias).
		JoinClause(totals.Prefix("JOIN (").Suffix(") AS " + schema.Quote(totalsAlias) + " ON " + strings.Join(on, " AND ")))
	if n > 0 {
		outer = outer.Where(col(totalsAlias, RankingColumn)+" <= ?", n)
	}
	return build(outer.OrderBy(col(totalsAlias, RankingColumn), col(dataAlias, entity), col(dataAlias, "year")))
}
