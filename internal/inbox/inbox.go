// Package inbox imports thought snapshot files dropped into a directory.
//
// Each *.json file holds one snapshot in the sync wire format. The watcher:
//  1. imports every file already present when it starts
//  2. watches the directory for created or rewritten files
//  3. waits until a file has been quiet for the debounce interval
//  4. merges the settled files through the sync engine in one batch
//
// Merging is last-write-wins, so re-importing an unchanged file is a no-op.
// A snapshot linking to a thought that does not exist yet is held and merged
// again with every later batch until its target arrives.
// Removing a file does not delete the thought; write a snapshot with
// deleted_at set instead.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/errs"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

// minTick bounds how often the queue is scanned when debounce is tiny.
const minTick = 20 * time.Millisecond

// Config holds watcher settings.
type Config struct {
	// Debounce is how long a file must stay unchanged before it is imported.
	Debounce time.Duration
	Logger   *zap.Logger
	// OnImport, when set, is called after every committed batch.
	OnImport func(files []string, res *thoughtsync.Result)
}

// Watcher imports snapshot files from one directory.
type Watcher struct {
	dir    string
	syncer thoughtsync.Syncer
	config Config
	logger *zap.Logger

	queue   map[string]time.Time // path -> last event
	queueMu sync.Mutex

	held   map[string]thought.Snapshot // id -> snapshot waiting for a link target
	heldMu sync.Mutex
}

// New creates a watcher for dir. The directory must exist.
func New(dir string, syncer thoughtsync.Syncer, cfg Config) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watcher{
		dir:    abs,
		syncer: syncer,
		config: cfg,
		logger: cfg.Logger.With(zap.String("inbox", abs)),
		queue:  make(map[string]time.Time),
		held:   make(map[string]thought.Snapshot),
	}, nil
}

// Run imports the existing files and then watches for changes until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	// Watch before the initial scan so files written during it are queued.
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	if _, err := w.ImportAll(ctx); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}
	w.logger.Info("watching inbox", zap.Duration("debounce", w.config.Debounce))

	tick := w.config.Debounce
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if isSnapshotFile(ev.Name) && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				w.enqueue(ev.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ticker.C:
			if files := w.settled(time.Now()); len(files) > 0 {
				if _, err := w.importFiles(ctx, files); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					w.logger.Error("inbox import failed", zap.Error(err))
				}
			}
		}
	}
}

// ImportAll merges every snapshot file currently in the directory.
func (w *Watcher) ImportAll(ctx context.Context) (*thoughtsync.Result, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isSnapshotFile(e.Name()) {
			files = append(files, filepath.Join(w.dir, e.Name()))
		}
	}
	return w.importFiles(ctx, files)
}

func (w *Watcher) enqueue(path string) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	w.queue[path] = time.Now()
}

// settled removes and returns the queued files that have been quiet for the
// debounce interval.
func (w *Watcher) settled(now time.Time) []string {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	var out []string
	for path, at := range w.queue {
		if now.Sub(at) < w.config.Debounce {
			continue
		}
		out = append(out, path)
		delete(w.queue, path)
	}
	sort.Strings(out)
	return out
}

// importFiles reads the files and merges them, plus any held snapshots, in
// one batch. Unreadable files are logged and skipped; a storage failure is
// returned.
func (w *Watcher) importFiles(ctx context.Context, files []string) (*thoughtsync.Result, error) {
	snaps := make([]thought.Snapshot, 0, len(files))
	var read []string
	fresh := make(map[string]bool, len(files))
	for _, path := range files {
		s, err := thought.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			w.logger.Warn("skipping snapshot file", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		snaps = append(snaps, *s)
		read = append(read, path)
		fresh[s.ID] = true
	}
	if len(snaps) == 0 {
		return &thoughtsync.Result{Changed: []thought.Thought{}}, nil
	}

	w.heldMu.Lock()
	defer w.heldMu.Unlock()
	for id, s := range w.held {
		// A newer file for the same thought replaces the held copy.
		if !fresh[id] {
			snaps = append(snaps, s)
		}
	}

	res, err := w.syncer.Apply(ctx, snaps)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]thought.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}
	w.held = make(map[string]thought.Snapshot)
	for _, rej := range res.Rejected {
		if s, ok := byID[rej.ID]; ok && rej.Kind == errs.KindTargetNotFound {
			w.held[rej.ID] = s
			w.logger.Info("snapshot held until its link target arrives", zap.String("id", rej.ID), zap.String("error", rej.Error))
			continue
		}
		w.logger.Warn("snapshot rejected", zap.String("id", rej.ID), zap.String("error", rej.Error))
	}
	w.logger.Info("inbox imported",
		zap.Int("files", len(read)),
		zap.Int("applied", res.Applied),
		zap.Int("stale", res.Stale),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("held", len(w.held)),
	)
	if w.config.OnImport != nil {
		w.config.OnImport(read, res)
	}
	return res, nil
}

// Held returns the ids of snapshots waiting for a link target, sorted.
func (w *Watcher) Held() []string {
	w.heldMu.Lock()
	defer w.heldMu.Unlock()
	ids := make([]string, 0, len(w.held))
	for id := range w.held {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isSnapshotFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
