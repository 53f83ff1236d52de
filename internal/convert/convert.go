package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const createdBy = "counterstats"

// Converter converts every legacy file of one job for one vendor. All files
// share one merger per target subtype and year, so duplicates across files
// are resolved together.
type Converter struct {
	OutputDir string
	Vendor    string

	log *zap.Logger
	now func() time.Time
}

func NewConverter(outputDir, vendor string, log *zap.Logger) *Converter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Converter{
		OutputDir: outputDir,
		Vendor:    strings.TrimSpace(vendor),
		log:       log.With(zap.String("component", "convert")),
		now:       time.Now,
	}
}

// Output is one written COUNTER 5 file.
type Output struct {
	Path    string
	Subtype catalog.Subtype
	Year    int
	Rows    int
}

type Result struct {
	Outputs []Output
	Skipped int
	Merged  int
}

type group struct {
	subtype catalog.Subtype
	year    int
}

type pending struct {
	merger      *Merger
	institution string
	created     string
}

// Convert parses every path and writes one file per target subtype and
// year into OutputDir. A file that cannot be parsed fails the whole job
// before anything is written.
func (c *Converter) Convert(ctx context.Context, paths []string) (Result, error) {
	if c.Vendor == "" {
		return Result{}, errors.New("convert: vendor must not be empty")
	}
	var result Result
	groups := map[group]*pending{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		sheet, err := ParseLegacyFile(path)
		if err != nil {
			return Result{}, err
		}
		result.Skipped += sheet.Skipped
		entity := catalog.EntityFieldFor(sheet.Subtype.Family()).Name

		for _, yl := range sheet.Lines {
			key := group{subtype: sheet.Subtype, year: yl.Year}
			p, ok := groups[key]
			if !ok {
				p = &pending{merger: NewMerger(entity, catalog.InvestigationsMetric)}
				groups[key] = p
			}
			if p.institution == "" {
				p.institution = sheet.InstitutionName
			}
			if sheet.Created != "" {
				p.created = sheet.Created
			}
			before := p.merger.Len()
			kept := p.merger.Add(yl.Line)
			if !kept || p.merger.Len() == before {
				result.Merged++
			}
		}
		c.log.Debug("legacy file parsed",
			zap.String("path", path),
			zap.String("kind", string(sheet.Kind)),
			zap.Int("lines", len(sheet.Lines)),
			zap.Int("skipped", sheet.Skipped),
		)
	}

	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subtype != keys[j].subtype {
			return keys[i].subtype < keys[j].subtype
		}
		return keys[i].year < keys[j].year
	})

	for _, key := range keys {
		p := groups[key]
		doc := c.document(key, p)
		path := filepath.Join(c.OutputDir, report.FileName(key.year, c.Vendor, key.subtype))
		if err := report.WriteFile(path, doc); err != nil {
			return result, fmt.Errorf("convert: write %s: %w", path, err)
		}
		result.Outputs = append(result.Outputs, Output{Path: path, Subtype: key.subtype, Year: key.year, Rows: len(doc.Lines)})
		c.log.Info("converted report written",
			zap.String("path", path),
			zap.String("subtype", string(key.subtype)),
			zap.Int("year", key.year),
			zap.Int("rows", len(doc.Lines)),
		)
	}
	return result, nil
}

func (c *Converter) document(key group, p *pending) report.Document {
	lines := p.merger.Lines()
	metrics := lo.Uniq(lo.Map(lines, func(l report.Line, _ int) string { return l.Fields.Get("metric_type") }))
	created := p.created
	if created == "" {
		created = c.now().UTC().Format(time.RFC3339)
	}
	return report.Document{
		Subtype: key.subtype,
		Year:    key.year,
		Header: report.Header{
			ReportName:      key.subtype.Name(),
			ReportID:        string(key.subtype),
			Release:         "5",
			InstitutionName: p.institution,
			MetricTypes:     strings.Join(metrics, "; "),
			ReportingPeriod: fmt.Sprintf("Begin_Date=%d-01-01; End_Date=%d-12-31", key.year, key.year),
			Created:         created,
			CreatedBy:       createdBy,
		},
		Lines: lines,
	}
}
