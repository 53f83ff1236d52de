package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/schema"
)

type Stats struct {
	Rows  map[catalog.Subtype]int64
	Costs map[catalog.Family]int64
}

// Stats counts the rows of every base table and cost table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Rows:  make(map[catalog.Subtype]int64),
		Costs: make(map[catalog.Family]int64),
	}
	err := s.withDB(func(db *sql.DB) error {
		for _, subtype := range catalog.Subtypes() {
			var n int64
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+schema.Quote(subtype.Table())).Scan(&n); err != nil {
				return fmt.Errorf("store: count %s: %w", subtype.Table(), err)
			}
			stats.Rows[subtype] = n
		}
		for _, family := range catalog.Families() {
			var n int64
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+schema.Quote(family.CostTable())).Scan(&n); err != nil {
				return fmt.Errorf("store: count %s: %w", family.CostTable(), err)
			}
			stats.Costs[family] = n
		}
		return nil
	})
	return stats, err
}
