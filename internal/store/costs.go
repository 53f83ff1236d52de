package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/costs"
	"github.com/janekbaraniewski/counterstats/internal/query"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CostResult reports a cost mutation.
type CostResult struct {
	Family  catalog.Family
	Records int64
	Backup  string
}

// InsertCost amortizes entry over its months and stores one row per month.
func (s *Store) InsertCost(ctx context.Context, family catalog.Family, entry costs.Entry) (CostResult, error) {
	records, err := costs.Amortize(entry)
	if err != nil {
		return CostResult{Family: family}, err
	}
	return s.replaceCosts(ctx, family, records)
}

// InsertCostFile stores every monthly row of a tab separated cost file.
func (s *Store) InsertCostFile(ctx context.Context, family catalog.Family, path string) (CostResult, error) {
	records, err := costs.ParseFile(family, path)
	if err != nil {
		s.log.Warn("cost file rejected", zap.String("path", path), zap.Error(err))
		return CostResult{Family: family}, err
	}
	return s.replaceCosts(ctx, family, records)
}

func (s *Store) replaceCosts(ctx context.Context, family catalog.Family, records []costs.Record) (CostResult, error) {
	result := CostResult{Family: family}
	batch, err := query.ReplaceCosts(family, records)
	if err != nil {
		return result, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, batch.SQL)
		if err != nil {
			return fmt.Errorf("store: prepare cost replace: %w", err)
		}
		defer stmt.Close()
		for _, args := range batch.Rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("store: replace cost: %w", err)
			}
			result.Records++
		}
		return nil
	})
	if err != nil {
		s.log.Error("cost insert failed", zap.String("family", string(family)), zap.String("statement", "replace_costs"), zap.Error(err))
		return CostResult{Family: family}, err
	}
	s.log.Info("costs stored", zap.String("family", string(family)), zap.Int64("records", result.Records))

	if err := s.backupCosts(ctx, family); err != nil {
		return result, err
	}
	result.Backup = s.backupPath(family)
	return result, nil
}

// DeleteCosts removes an entity's costs from one vendor over an inclusive
// month range.
func (s *Store) DeleteCosts(ctx context.Context, family catalog.Family, entity, vendor string, begin, end costs.YearMonth) (CostResult, error) {
	result := CostResult{Family: family}
	stmt, err := query.DeleteCosts(family, entity, vendor, begin, end)
	if err != nil {
		return result, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return fmt.Errorf("store: delete costs: %w", err)
		}
		result.Records, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		s.log.Error("cost delete failed", zap.String("family", string(family)), zap.String("statement", "delete_costs"), zap.Error(err))
		return result, err
	}
	if err := s.backupCosts(ctx, family); err != nil {
		return result, err
	}
	result.Backup = s.backupPath(family)
	return result, nil
}

// GetCosts lists monthly costs; empty vendor or entity and a zero year
// match everything.
func (s *Store) GetCosts(ctx context.Context, family catalog.Family, vendor string, year int, entity string) ([]costs.Record, error) {
	stmt, err := query.SelectCosts(family, vendor, year, entity)
	if err != nil {
		return nil, err
	}
	var records []costs.Record
	err = s.withDB(func(db *sql.DB) error {
		var err error
		records, err = scanCosts(ctx, db, stmt)
		return err
	})
	return records, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanCosts(ctx context.Context, q queryer, stmt query.Statement) ([]costs.Record, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("store: query costs: %w", err)
	}
	defer rows.Close()

	var records []costs.Record
	for rows.Next() {
		var (
			r                        costs.Record
			original, local, withTax float64
		)
		if err := rows.Scan(&r.Entity, &r.Vendor, &r.Year, &r.Month, &original, &r.OriginalCurrency, &local, &withTax); err != nil {
			return nil, fmt.Errorf("store: scan cost: %w", err)
		}
		r.CostInOriginalCurrency = decimal.NewFromFloat(original)
		r.CostInLocalCurrency = decimal.NewFromFloat(local)
		r.CostInLocalCurrencyWithTax = decimal.NewFromFloat(withTax)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate costs: %w", err)
	}
	return records, nil
}

func (s *Store) backupPath(family catalog.Family) string {
	if s.backupDir == "" {
		return ""
	}
	return filepath.Join(s.backupDir, costs.BackupFileName(family))
}

// backupCosts snapshots a family's cost table inside one read transaction
// and replaces the backup file atomically.
func (s *Store) backupCosts(ctx context.Context, family catalog.Family) error {
	path := s.backupPath(family)
	if path == "" {
		return nil
	}
	stmt, err := query.CostSnapshot(family)
	if err != nil {
		return err
	}

	var records []costs.Record
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		records, err = scanCosts(ctx, tx, stmt)
		return err
	})
	if err != nil {
		s.log.Error("cost snapshot failed", zap.String("family", string(family)), zap.Error(err))
		return err
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("store: creating backup dir: %w", err)
	}
	if err := costs.WriteBackupFile(path, family, records); err != nil {
		s.log.Error("cost backup failed", zap.String("path", path), zap.Error(err))
		return err
	}
	s.log.Debug("cost backup written", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}
