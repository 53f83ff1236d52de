// Package ingest imports batches of COUNTER 5 report files and watches an
// inbox directory for new ones.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Writer stores one parsed report. *store.Store satisfies it.
type Writer interface {
	InsertReport(ctx context.Context, rep *report.Report) (store.IngestResult, error)
}

// FileSpec names a report file and the vendor and year it belongs to. An
// empty Vendor or zero Year is taken from the file name.
type FileSpec struct {
	Path   string
	Vendor string
	Year   int
}

// subtypesBySuffix is ordered longest first so TR_J1 wins over TR.
var subtypesBySuffix = func() []catalog.Subtype {
	out := catalog.Subtypes()
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}()

// SpecFromPath reads vendor and year from a <year>_<vendor>_<subtype> file
// name. Vendors may contain underscores.
func SpecFromPath(path string) (FileSpec, error) {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".tsv" && ext != ".csv" {
		return FileSpec{}, fmt.Errorf("ingest: %s: not a .tsv or .csv file", base)
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	yearPart, rest, ok := strings.Cut(stem, "_")
	if !ok {
		return FileSpec{}, fmt.Errorf("ingest: %s: want <year>_<vendor>_<report>", base)
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil || year < 1000 || year > 9999 {
		return FileSpec{}, fmt.Errorf("ingest: %s: %q is not a year", base, yearPart)
	}

	subtype, ok := lo.Find(subtypesBySuffix, func(s catalog.Subtype) bool {
		return strings.HasSuffix(rest, "_"+string(s))
	})
	if !ok {
		return FileSpec{}, fmt.Errorf("ingest: %s: no report type suffix", base)
	}
	vendor := strings.TrimSpace(strings.TrimSuffix(rest, "_"+string(subtype)))
	if vendor == "" {
		return FileSpec{}, fmt.Errorf("ingest: %s: empty vendor", base)
	}
	return FileSpec{Path: path, Vendor: vendor, Year: year}, nil
}

// IsReportFile reports whether a file name looks like an importable report.
func IsReportFile(path string) bool {
	_, err := SpecFromPath(path)
	return err == nil
}

// FileError records why one file of a batch was not imported.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return filepath.Base(e.Path) + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// BatchResult lists the imported files in input order and the failed ones.
type BatchResult struct {
	Imported []store.IngestResult
	Failed   []FileError
}

func (b BatchResult) Rows() (inserted, failed int64) {
	for _, r := range b.Imported {
		inserted += r.Inserted
		failed += r.Failed
	}
	return inserted, failed
}

// Err joins every per-file failure, nil when all files were imported.
func (b BatchResult) Err() error {
	errs := make([]error, len(b.Failed))
	for i, f := range b.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type Importer struct {
	writer      Writer
	concurrency int
	log         *zap.Logger
}

func NewImporter(w Writer, concurrency int, log *zap.Logger) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{writer: w, concurrency: concurrency, log: log.With(zap.String("component", "ingest"))}
}

// ImportFiles parses files concurrently and stores them one at a time in
// input order. A bad file is recorded in the result and never stops the
// rest of the batch.
func (i *Importer) ImportFiles(ctx context.Context, specs []FileSpec) BatchResult {
	parsed := make([]*report.Report, len(specs))
	parseErrs := make([]error, len(specs))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, spec := range specs {
		idx, spec := idx, spec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				parseErrs[idx] = err
				return nil
			}
			rep, err := parse(spec)
			if err != nil {
				parseErrs[idx] = err
				return nil
			}
			parsed[idx] = rep
			return nil
		})
	}
	_ = g.Wait()

	var result BatchResult
	for idx, spec := range specs {
		if err := parseErrs[idx]; err != nil {
			i.log.Warn("file skipped", zap.String("path", spec.Path), zap.Error(err))
			result.Failed = append(result.Failed, FileError{Path: spec.Path, Err: err})
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, FileError{Path: spec.Path, Err: err})
			continue
		}
		res, err := i.writer.InsertReport(ctx, parsed[idx])
		if err != nil {
			result.Failed = append(result.Failed, FileError{Path: spec.Path, Err: err})
			continue
		}
		result.Imported = append(result.Imported, res)
	}

	inserted, failedRows := result.Rows()
	i.log.Info("batch imported",
		zap.Int("files", len(specs)),
		zap.Int("failed_files", len(result.Failed)),
		zap.Int64("rows", inserted),
		zap.Int64("failed_rows", failedRows),
	)
	return result
}

func parse(spec FileSpec) (*report.Report, error) {
	if spec.Vendor == "" || spec.Year == 0 {
		named, err := SpecFromPath(spec.Path)
		if err != nil {
			return nil, err
		}
		if spec.Vendor == "" {
			spec.Vendor = named.Vendor
		}
		if spec.Year == 0 {
			spec.Year = named.Year
		}
	}
	return report.ParseFile(spec.Path, spec.Vendor, spec.Year)
}
