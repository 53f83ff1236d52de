// Package store runs catalog-derived SQL against the embedded SQLite usage
// database. Every operation opens its own connection and closes it before
// returning; multi-statement operations run in one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/query"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/janekbaraniewski/counterstats/internal/schema"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Store struct {
	path      string
	backupDir string
	log       *zap.Logger
	now       func() time.Time
}

// New returns a store for the database at path. Cost backups are written
// to backupDir after every cost change; an empty backupDir disables them.
func New(path, backupDir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path:      path,
		backupDir: backupDir,
		log:       log.With(zap.String("component", "store")),
		now:       time.Now,
	}
}

func (s *Store) Path() string { return s.path }

func (s *Store) open() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating DB dir: %w", err)
	}
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("store: opening DB: %w", err)
	}
	if err := configureSQLiteConnection(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: configure DB: %w", err)
	}
	return db, nil
}

func (s *Store) withDB(fn func(db *sql.DB) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin tx: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit tx: %w", err)
		}
		return nil
	})
}

// SetupDatabase creates every table, cost table and view. With recreate the
// existing views and tables are dropped first, discarding all data.
func (s *Store) SetupDatabase(ctx context.Context, recreate bool) error {
	stmts, err := schema.Setup(recreate)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: setup schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("database setup failed", zap.Bool("recreate", recreate), zap.Error(err))
		return err
	}
	s.log.Info("database ready", zap.String("path", s.path), zap.Bool("recreate", recreate), zap.Int("statements", len(stmts)))
	return nil
}

// IngestResult reports what one file import changed.
type IngestResult struct {
	File     string
	Subtype  catalog.Subtype
	Deleted  int64
	Inserted int64
	Failed   int64
}

// InsertFile parses a COUNTER 5 file and replaces everything previously
// imported from a file of the same name.
func (s *Store) InsertFile(ctx context.Context, path, vendor string, year int) (IngestResult, error) {
	rep, err := report.ParseFile(path, vendor, year)
	if err != nil {
		s.log.Warn("report rejected", zap.String("path", path), zap.Error(err))
		return IngestResult{File: filepath.Base(path)}, err
	}
	return s.InsertReport(ctx, rep)
}

// InsertReport deletes the rows of the report's file, then replaces the
// parsed rows, in one transaction. A row the database rejects is logged and
// counted in Failed without aborting the import.
func (s *Store) InsertReport(ctx context.Context, rep *report.Report) (IngestResult, error) {
	result := IngestResult{File: rep.FileName(), Subtype: rep.Subtype}

	del, err := query.DeleteByFile(rep.Subtype, result.File)
	if err != nil {
		return result, err
	}
	batch, err := query.Replace(rep.Subtype, rep.Rows)
	if err != nil {
		return result, err
	}

	log := s.log.With(zap.String("file", result.File), zap.String("subtype", string(rep.Subtype)))
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, del.SQL, del.Args...)
		if err != nil {
			return fmt.Errorf("store: delete previous rows: %w", err)
		}
		result.Deleted, _ = res.RowsAffected()

		stmt, err := tx.PrepareContext(ctx, batch.SQL)
		if err != nil {
			return fmt.Errorf("store: prepare replace: %w", err)
		}
		defer stmt.Close()

		for i, args := range batch.Rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				result.Failed++
				log.Warn("row rejected", zap.Int("row", i), zap.Error(err))
				continue
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		log.Error("report import failed", zap.String("statement", "replace"), zap.Error(err))
		return result, err
	}
	log.Info("report imported",
		zap.Int64("deleted", result.Deleted),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
	)
	return result, nil
}

// RenameVendor renames a vendor in every report and cost table in one
// transaction, then refreshes the cost backups.
func (s *Store) RenameVendor(ctx context.Context, oldName, newName string) (int64, error) {
	stmts, err := query.RenameVendor(oldName, newName)
	if err != nil {
		return 0, err
	}
	var changed int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return fmt.Errorf("store: rename vendor: %w", err)
			}
			n, _ := res.RowsAffected()
			changed += n
		}
		return nil
	})
	if err != nil {
		s.log.Error("vendor rename failed", zap.String("statement", "rename_vendor"), zap.String("from", oldName), zap.String("to", newName), zap.Error(err))
		return 0, err
	}
	s.log.Info("vendor renamed", zap.String("from", oldName), zap.String("to", newName), zap.Int64("rows", changed))

	for _, family := range catalog.Families() {
		if err := s.backupCosts(ctx, family); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// Exec runs a single built statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, stmt query.Statement) (int64, error) {
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return fmt.Errorf("store: exec: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
