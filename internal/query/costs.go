package query

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/costs"
	"github.com/janekbaraniewski/counterstats/internal/schema"
)

func costEntity(family catalog.Family) (string, error) {
	if _, err := catalog.ParseFamily(string(family)); err != nil {
		return "", err
	}
	return catalog.EntityFieldFor(family).Name, nil
}

// ReplaceCosts binds one tuple per monthly record in costs.Columns order.
func ReplaceCosts(family catalog.Family, records []costs.Record) (Batch, error) {
	if _, err := costEntity(family); err != nil {
		return Batch{}, err
	}
	sql, err := replaceInto(family.CostTable(), costs.Columns(family))
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{SQL: sql, Rows: make([][]any, 0, len(records))}
	for _, r := range records {
		batch.Rows = append(batch.Rows, []any{
			r.Entity,
			r.Vendor,
			r.Year,
			r.Month,
			r.CostInOriginalCurrency.InexactFloat64(),
			r.OriginalCurrency,
			r.CostInLocalCurrency.InexactFloat64(),
			r.CostInLocalCurrencyWithTax.InexactFloat64(),
		})
	}
	return batch, nil
}

func monthIndexExpr() string {
	return "(" + schema.Quote("year") + " * 12 + " + schema.Quote("month") + ")"
}

// DeleteCosts removes an entity's monthly costs from one vendor within an
// inclusive month range.
func DeleteCosts(family catalog.Family, entity, vendor string, begin, end costs.YearMonth) (Statement, error) {
	entityCol, err := costEntity(family)
	if err != nil {
		return Statement{}, err
	}
	if err := costs.ValidateRange(begin, end); err != nil {
		return Statement{}, err
	}
	return build(sq.Delete(schema.Quote(family.CostTable())).
		Where(schema.Quote(entityCol)+" = ?", entity).
		Where(schema.Quote("vendor")+" = ?", vendor).
		Where(monthIndexExpr()+" BETWEEN ? AND ?", begin.Year*12+begin.Month, end.Year*12+end.Month))
}

// SelectCosts lists monthly cost rows. Empty vendor or entity and a zero
// year leave that filter out.
func SelectCosts(family catalog.Family, vendor string, year int, entity string) (Statement, error) {
	entityCol, err := costEntity(family)
	if err != nil {
		return Statement{}, err
	}
	b := sq.Select(quoteAll(costs.Columns(family))...).From(schema.Quote(family.CostTable()))
	if vendor != "" {
		b = b.Where(schema.Quote("vendor")+" = ?", vendor)
	}
	if year != 0 {
		b = b.Where(schema.Quote("year")+" = ?", year)
	}
	if entity != "" {
		b = b.Where(schema.Quote(entityCol)+" = ?", entity)
	}
	return build(b.OrderBy(quoteAll([]string{"vendor", "year", entityCol, "month"})...))
}

// CostSnapshot selects the whole cost table of a family for backups.
func CostSnapshot(family catalog.Family) (Statement, error) {
	return SelectCosts(family, "", 0, "")
}
