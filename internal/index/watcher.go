package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/wikigraph/internal/checksum"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/storage"
)

// ErrWatchRootGone is returned by Watcher.Run when the watched root
// directory disappears.
var ErrWatchRootGone = errors.New("index: watch root removed")

// WatchConfig tunes the change detector.
type WatchConfig struct {
	Debounce      time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// DefaultWatchConfig returns the defaults used when fields are zero.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{Debounce: 150 * time.Millisecond, RetryAttempts: 5, RetryBackoff: 100 * time.Millisecond}
}

// Watcher turns filesystem events into work items. It never mutates the
// store: it only reads stored fingerprints and submits items.
type Watcher struct {
	fs     storage.Provider
	store  *graph.Store
	sink   Submitter
	logger *slog.Logger
	cfg    WatchConfig
	now    func() time.Time
	ready  chan struct{}
}

// NewWatcher creates a watcher for the wiki served by fsys.
func NewWatcher(fsys storage.Provider, store *graph.Store, sink Submitter, cfg WatchConfig, logger *slog.Logger) *Watcher {
	def := DefaultWatchConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Watcher{fs: fsys, store: store, sink: sink, logger: logger, cfg: cfg, now: time.Now, ready: make(chan struct{})}
}

// Ready is closed once Run has registered every directory. Changes made
// after that are guaranteed to produce events.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// pendingPath is a path waiting for its quiet period to end.
type pendingPath struct {
	deadline time.Time
	attempt  int // failed reads so far
}

// settled is the outcome of checking one path after its quiet period.
type settled struct {
	path    string
	exists  bool
	fp      string
	known   *graph.PagePayload
	readErr error
}

// Run watches the wiki root until ctx is cancelled. Each event pushes
// back its path's deadline by the debounce window; a single timer fires for
// the earliest deadline. New directories are added to the watch list and
// their files scheduled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create: %w", err)
	}
	defer fw.Close()

	root := w.fs.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return fmt.Errorf("watcher: add dirs: %w", err)
	}
	w.logger.Info("watcher: started", slog.String("root", root), slog.Duration("debounce", w.cfg.Debounce))
	close(w.ready)

	pending := make(map[string]*pendingPath)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	rearm := func() {
		var earliest time.Time
		for _, p := range pending {
			if earliest.IsZero() || p.deadline.Before(earliest) {
				earliest = p.deadline
			}
		}
		timer.Stop()
		if !earliest.IsZero() {
			timer.Reset(max(time.Until(earliest), 0))
		}
	}
	touch := func(rel string) {
		pending[rel] = &pendingPath{deadline: w.now().Add(w.cfg.Debounce)}
		rearm()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			// Paths about to settle join the batch so that both halves of
			// a rename are seen together.
			horizon := w.now().Add(w.cfg.Debounce / 2)
			var due []string
			for rel, p := range pending {
				if !p.deadline.After(horizon) {
					due = append(due, rel)
				}
			}
			w.settle(due, pending)
			rearm()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if absPath == root && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return ErrWatchRootGone
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if strings.HasPrefix(info.Name(), ".") {
						continue
					}
					if addErr := addDirsRecursive(fw, absPath); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						w.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					for _, rel := range w.filesUnder(absPath) {
						touch(rel)
					}
					continue
				}
			}

			rel, ok := w.relPage(absPath)
			if !ok {
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if _, statErr := os.Stat(root); errors.Is(statErr, fs.ErrNotExist) {
						return ErrWatchRootGone
					}
					// A directory left the tree: its pages settle as removals,
					// or as renames if the directory reappears elsewhere.
					if gone := w.pagesUnder(absPath); len(gone) > 0 {
						_ = fw.Remove(absPath)
						w.logger.Debug("watcher: dir removed",
							slog.String("path", absPath),
							slog.Int("pages", len(gone)))
						for _, p := range gone {
							touch(p)
						}
					}
				}
				continue
			}
			touch(rel)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// settle checks every due path and submits the resulting work. Unreadable
// files are re-armed with exponential backoff instead of blocking the loop.
func (w *Watcher) settle(due []string, pending map[string]*pendingPath) {
	var results []settled
	for _, rel := range due {
		res := w.inspect(rel)
		if res.readErr != nil {
			p := pending[rel]
			p.attempt++
			if p.attempt >= w.cfg.RetryAttempts {
				delete(pending, rel)
				w.logger.Warn("watcher: giving up on unreadable file",
					slog.String("path", rel),
					slog.Int("attempts", p.attempt),
					slog.String("error", res.readErr.Error()))
				w.sink.Submit(Item{Path: rel, Op: OpDegrade, Cause: res.readErr.Error()}, false)
				continue
			}
			backoff := w.cfg.RetryBackoff << (p.attempt - 1)
			p.deadline = w.now().Add(backoff)
			w.logger.Debug("watcher: read retry scheduled",
				slog.String("path", rel),
				slog.Int("attempt", p.attempt),
				slog.Duration("backoff", backoff))
			continue
		}
		delete(pending, rel)
		results = append(results, res)
	}

	// Pair removals with creations of identical content into renames.
	created := make(map[string][]int)
	for i, r := range results {
		if r.exists && r.known == nil {
			created[r.fp] = append(created[r.fp], i)
		}
	}
	renamed := make(map[int]string)
	for _, r := range results {
		if r.exists || r.known == nil {
			continue
		}
		if idx := created[r.known.Fingerprint]; len(idx) > 0 {
			renamed[idx[0]] = r.path
			created[r.known.Fingerprint] = idx[1:]
		}
	}
	sources := make(map[string]bool, len(renamed))
	for _, from := range renamed {
		sources[from] = true
	}

	for i, r := range results {
		switch {
		case !r.exists && r.known == nil:
			// Created and deleted within one window.
		case !r.exists:
			if sources[r.path] {
				continue
			}
			w.logger.Debug("watcher: removed", slog.String("path", r.path))
			w.sink.Submit(Item{Path: r.path, Op: OpRemove}, false)
		case renamed[i] != "":
			w.logger.Debug("watcher: renamed", slog.String("from", renamed[i]), slog.String("to", r.path))
			w.sink.Submit(Item{Path: r.path, Op: OpReparse, From: renamed[i]}, false)
		case r.known != nil && r.known.Fingerprint == r.fp && r.known.ParseError == "" && r.known.Degraded == "":
			w.logger.Debug("watcher: content unchanged", slog.String("path", r.path))
		default:
			w.logger.Debug("watcher: changed", slog.String("path", r.path))
			w.sink.Submit(Item{Path: r.path, Op: OpReparse}, false)
		}
	}
}

func (w *Watcher) inspect(rel string) settled {
	res := settled{path: rel}
	if page, err := w.store.PageByPath(rel); err == nil {
		pp, _ := page.PagePayload()
		res.known = &pp
	}
	data, err := w.fs.Read(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return res
	case err != nil:
		res.readErr = err
		return res
	}
	res.exists = true
	res.fp = checksum.Sum(data)
	return res
}

// relPage converts an absolute event path to a wiki-relative page path,
// rejecting files with another extension or inside hidden directories.
func (w *Watcher) relPage(absPath string) (string, bool) {
	if !strings.HasSuffix(absPath, w.fs.Extension()) {
		return "", false
	}
	rel, err := filepath.Rel(w.fs.Root(), absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return rel, true
}

// pagesUnder returns the stored pages below the directory at absPath.
func (w *Watcher) pagesUnder(absPath string) []string {
	rel, err := filepath.Rel(w.fs.Root(), absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	prefix := filepath.ToSlash(rel) + "/"
	var out []string
	for _, page := range w.store.Pages() {
		if pp, _ := page.PagePayload(); strings.HasPrefix(pp.Path, prefix) {
			out = append(out, pp.Path)
		}
	}
	return out
}

// filesUnder lists page files already present in a newly created directory.
func (w *Watcher) filesUnder(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.relPage(p); ok {
			out = append(out, rel)
		}
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
