package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/janekbaraniewski/counterstats/internal/catalog"
	"github.com/janekbaraniewski/counterstats/internal/report"
	"github.com/janekbaraniewski/counterstats/internal/store"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	reports []*report.Report
	fail    string
}

func (w *recordingWriter) InsertReport(_ context.Context, rep *report.Report) (store.IngestResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != "" && rep.FileName() == w.fail {
		return store.IngestResult{}, errors.New("disk full")
	}
	w.reports = append(w.reports, rep)
	return store.IngestResult{File: rep.FileName(), Subtype: rep.Subtype, Inserted: int64(len(rep.Rows))}, nil
}

func (w *recordingWriter) files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.reports))
	for i, r := range w.reports {
		out[i] = r.FileName()
	}
	return out
}

func writePlatformReport(t *testing.T, dir string, year int, vendor string, jan int64) string {
	t.Helper()
	path := filepath.Join(dir, report.FileName(year, vendor, catalog.PR))
	line := report.Line{Fields: report.Row{"platform": vendor + " Online", "metric_type": "Searches_Platform"}}
	line.Months[0] = jan
	require.NoError(t, report.WriteFile(path, report.Document{
		Subtype: catalog.PR,
		Year:    year,
		Header:  report.Header{ReportName: "Platform Master Report", ReportID: "PR", Release: "5", Created: "2021-02-01"},
		Lines:   []report.Line{line},
	}))
	return path
}

func TestSpecFromPath(t *testing.T) {
	tests := []struct {
		path   string
		vendor string
		year   int
		ok     bool
	}{
		{"/in/2020_Wiley_TR_J1.tsv", "Wiley", 2020, true},
		{"2019_John_Wiley_TR.csv", "John_Wiley", 2019, true},
		{"2021_EBSCO_DR_D1.TSV", "EBSCO", 2021, true},
		{"2021_EBSCO_IR_M1.tsv", "EBSCO", 2021, true},
		{"2021__TR.tsv", "", 0, false},
		{"20_Wiley_TR.tsv", "", 0, false},
		{"2020_Wiley_XX.tsv", "", 0, false},
		{"2020_Wiley_TR.xlsx", "", 0, false},
		{"2020_Wiley_TR.tsv.tmp", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			spec, err := SpecFromPath(tt.path)
			if !tt.ok {
				assert.Error(t, err)
				assert.False(t, IsReportFile(tt.path))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.vendor, spec.Vendor)
			assert.Equal(t, tt.year, spec.Year)
			assert.Equal(t, tt.path, spec.Path)
		})
	}
}

func TestImportFilesContinuesPastBadFiles(t *testing.T) {
	dir := t.TempDir()
	good1 := writePlatformReport(t, dir, 2020, "Wiley", 3)
	good2 := writePlatformReport(t, dir, 2021, "Wiley", 4)
	bad := filepath.Join(dir, "2020_Broken_PR.tsv")
	require.NoError(t, os.WriteFile(bad, []byte("Report_Name\tPR\n"), 0o644))
	unnamed := filepath.Join(dir, "usage.tsv")

	w := &recordingWriter{}
	imp := NewImporter(w, 2, nil)
	res := imp.ImportFiles(context.Background(), []FileSpec{
		{Path: good1},
		{Path: bad},
		{Path: unnamed},
		{Path: good2},
	})

	assert.Equal(t, []string{"2020_Wiley_PR.tsv", "2021_Wiley_PR.tsv"}, w.files())
	require.Len(t, res.Failed, 2)
	assert.Equal(t, bad, res.Failed[0].Path)
	assert.Equal(t, unnamed, res.Failed[1].Path)

	var perr *report.ParseError
	assert.ErrorAs(t, res.Err(), &perr)

	inserted, failed := res.Rows()
	assert.Equal(t, int64(2), inserted)
	assert.Zero(t, failed)
}

func TestImportFilesUsesExplicitVendorAndYear(t *testing.T) {
	dir := t.TempDir()
	path := writePlatformReport(t, dir, 2020, "Wiley", 3)
	w := &recordingWriter{}
	res := NewImporter(w, 1, nil).ImportFiles(context.Background(), []FileSpec{{Path: path, Vendor: "John Wiley"}})
	require.NoError(t, res.Err())
	require.Len(t, w.reports, 1)
	assert.Equal(t, "John Wiley", w.reports[0].Vendor)
	assert.Equal(t, 2020, w.reports[0].Year)
}

func TestImportFilesReportsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	path := writePlatformReport(t, dir, 2020, "Wiley", 3)
	w := &recordingWriter{fail: "2020_Wiley_PR.tsv"}
	res := NewImporter(w, 4, nil).ImportFiles(context.Background(), []FileSpec{{Path: path}})
	assert.Empty(t, res.Imported)
	assert.ErrorContains(t, res.Err(), "disk full")
}

func TestImportFilesStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := writePlatformReport(t, dir, 2020, "Wiley", 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &recordingWriter{}
	res := NewImporter(w, 1, nil).ImportFiles(ctx, []FileSpec{{Path: path}})
	assert.Empty(t, w.files())
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestWatcherImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := writePlatformReport(t, dir, 2019, "Wiley", 1)
	require.FileExists(t, existing)

	w := &recordingWriter{}
	watcher := NewWatcher(dir, NewImporter(w, 1, nil), nil)
	watcher.Delay = 20 * time.Millisecond
	watcher.ImportExisting = true
	require.NoError(t, watcher.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	writePlatformReport(t, dir, 2020, "Wiley", 3)

	assert.Eventually(t, func() bool {
		// the new file may also be picked up by the initial scan
		files := w.files()
		return len(files) >= 2 && files[0] == "2019_Wiley_PR.tsv" && lo.Contains(files, "2020_Wiley_PR.tsv")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
