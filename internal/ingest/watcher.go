package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultSettleDelay = 2 * time.Second

// Watcher imports report files that appear in a directory. Events for the
// same file are debounced until the file has been quiet for Delay, so a
// file still being copied is imported once.
type Watcher struct {
	Dir string
	// Delay is the quiet period before a changed file is imported.
	Delay time.Duration
	// ImportExisting imports the report files already in Dir on start.
	ImportExisting bool

	importer *Importer
	log      *zap.Logger

	fs      *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]uint64
	seq     uint64
	ready   chan string
	done    chan struct{}
}

func NewWatcher(dir string, importer *Importer, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		Dir:      dir,
		Delay:    DefaultSettleDelay,
		importer: importer,
		log:      log.With(zap.String("component", "watcher"), zap.String("dir", dir)),
		pending:  make(map[string]uint64),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}
}

// Start creates the directory if needed and begins receiving events.
// Run calls it when it has not been called yet.
func (w *Watcher) Start() error {
	if w.fs != nil {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create watch dir: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: create watcher: %w", err)
	}
	if err := fs.Add(w.Dir); err != nil {
		fs.Close()
		return fmt.Errorf("ingest: watch %s: %w", w.Dir, err)
	}
	w.fs = fs
	return nil
}

// Run imports files until ctx is done. Imports happen on this goroutine
// only, so the store sees a single writer.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	defer w.fs.Close()
	defer close(w.done)

	w.log.Info("watching for reports")
	if w.ImportExisting {
		if err := w.importExisting(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsReportFile(ev.Name) {
				continue
			}
			w.schedule(ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("event overflow, rescanning")
				if err := w.importExisting(ctx); err != nil {
					return err
				}
				continue
			}
			w.log.Warn("watch error", zap.Error(err))
		case path := <-w.ready:
			w.importFile(ctx, path)
		}
	}
}

// schedule queues path for import, restarting its quiet period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	gen := w.seq
	w.pending[path] = gen
	time.AfterFunc(w.Delay, func() { w.settle(path, gen) })
}

func (w *Watcher) settle(path string, gen uint64) {
	w.mu.Lock()
	if w.pending[path] != gen {
		// superseded by a later event
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()
	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		w.log.Debug("file gone before import", zap.String("path", path))
		return
	}
	res := w.importer.ImportFiles(ctx, []FileSpec{{Path: path}})
	if err := res.Err(); err != nil {
		w.log.Warn("watched file not imported", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) importExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("ingest: read watch dir: %w", err)
	}
	var specs []FileSpec
	for _, e := range entries {
		if e.IsDir() || !IsReportFile(e.Name()) {
			continue
		}
		specs = append(specs, FileSpec{Path: filepath.Join(w.Dir, e.Name())})
	}
	if len(specs) == 0 {
		return nil
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Path < specs[j].Path })
	res := w.importer.ImportFiles(ctx, specs)
	if err := res.Err(); err != nil {
		w.log.Warn("some existing files not imported", zap.Error(err))
	}
	return nil
}
