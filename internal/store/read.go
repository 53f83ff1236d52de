package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/query"
	"go.uber.org/zap"
)

// Record is one result row keyed by column name. TEXT values are strings,
// INTEGER values int64 and REAL values float64; NULL is nil.
type Record map[string]any

func (r Record) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (r Record) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func (r Record) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// Result holds rows in select order together with their column names.
type Result struct {
	Columns []string
	Records []Record
}

// Values returns one record's values in column order.
func (r Result) Values(i int) []any {
	out := make([]any, len(r.Columns))
	for j, col := range r.Columns {
		out[j] = r.Records[i][col]
	}
	return out
}

// Search returns view rows within the year range matching every clause
// group. No match is an empty result, not an error.
func (s *Store) Search(ctx context.Context, subtype catalog.Subtype, startYear, endYear int, groups [][]query.Clause) (Result, error) {
	stmt, err := query.Search(subtype, startYear, endYear, groups)
	if err != nil {
		return Result{}, err
	}
	return s.read(ctx, subtype, "search", stmt)
}

func (s *Store) ChartQuery(ctx context.Context, subtype catalog.Subtype, startYear, endYear int, entity, metricType, vendor string) (Result, error) {
	stmt, err := query.Chart(subtype, startYear, endYear, entity, metricType, vendor)
	if err != nil {
		return Result{}, err
	}
	return s.read(ctx, subtype, "chart", stmt)
}

func (s *Store) TopN(ctx context.Context, subtype catalog.Subtype, startYear, endYear int, metricType, vendor string, n int) (Result, error) {
	stmt, err := query.TopN(subtype, startYear, endYear, metricType, vendor, n)
	if err != nil {
		return Result{}, err
	}
	return s.read(ctx, subtype, "top_n", stmt)
}

func (s *Store) read(ctx context.Context, subtype catalog.Subtype, kind string, stmt query.Statement) (Result, error) {
	var result Result
	err := s.withDB(func(db *sql.DB) error {
		var err error
		result, err = scanRecords(ctx, db, stmt)
		return err
	})
	if err != nil {
		s.log.Error("query failed", zap.String("subtype", string(subtype)), zap.String("statement", kind), zap.Error(err))
		return Result{}, err
	}
	return result, nil
}

func scanRecords(ctx context.Context, q queryer, stmt query.Statement) (Result, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return Result{}, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("store: read columns: %w", err)
	}
	result := Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("store: scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("store: iterate rows: %w", err)
	}
	return result, nil
}
