// Package index keeps the entity graph synchronized with the wiki files:
// it detects changes, schedules per-file work and turns each reparse into
// a minimal patch.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/checksum"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/parser"
	"github.com/starford/wikigraph/internal/storage"
)

// CommitHook is called after every successful commit, outside the store lock.
type CommitHook func(graph.Commit)

// Engine turns file contents into graph patches. Calls for the same path
// must be serialized by the caller; the Scheduler does that.
type Engine struct {
	store  *graph.Store
	fs     storage.Provider
	logger *slog.Logger

	readAttempts int
	readBackoff  time.Duration
	now          func() time.Time

	mu      sync.Mutex
	hooks   []CommitHook
	renames map[string]string // new path → old path
}

// NewEngine creates an engine writing to store and reading from fsys.
func NewEngine(store *graph.Store, fsys storage.Provider, logger *slog.Logger) *Engine {
	return &Engine{
		store:        store,
		fs:           fsys,
		logger:       logger,
		readAttempts: 3,
		readBackoff:  50 * time.Millisecond,
		now:          time.Now,
		renames:      make(map[string]string),
	}
}

// SetReadRetry configures how transient read failures are retried.
func (e *Engine) SetReadRetry(attempts int, backoff time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	e.readAttempts = attempts
	e.readBackoff = backoff
}

// Store returns the graph store the engine writes to.
func (e *Engine) Store() *graph.Store { return e.store }

// OnCommit registers a hook run after each commit.
func (e *Engine) OnCommit(h CommitHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// ExpectRename records that oldPath is being moved to newPath. The next
// reparse of newPath takes over the old page's identity and removals of
// oldPath are ignored until then.
func (e *Engine) ExpectRename(oldPath, newPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renames[newPath] = oldPath
}

// CancelRename drops a rename registered with ExpectRename.
func (e *Engine) CancelRename(newPath string) {
	e.clearRename(newPath)
}

func (e *Engine) renameSource(newPath string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renames[newPath]
}

func (e *Engine) renamePending(oldPath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.renames {
		if o == oldPath {
			return true
		}
	}
	return false
}

func (e *Engine) clearRename(newPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.renames, newPath)
}

// Do executes one work item.
func (e *Engine) Do(ctx context.Context, it Item) (graph.Commit, error) {
	switch it.Op {
	case OpReparse:
		if it.From != "" {
			e.ExpectRename(it.From, it.Path)
		}
		return e.Reparse(ctx, it.Path)
	case OpRemove:
		return e.Remove(it.Path)
	case OpDegrade:
		return e.Degrade(it.Path, it.Cause)
	}
	return graph.Commit{}, fmt.Errorf("index: unknown op %d", it.Op)
}

// Reparse reads path, parses it and commits the difference against the
// stored page. Unchanged content is a no-op. A vanished file removes the
// page; an unreadable one marks it degraded.
func (e *Engine) Reparse(ctx context.Context, path string) (graph.Commit, error) {
	data, err := e.read(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		if from := e.renameSource(path); from != "" {
			e.clearRename(path)
			e.dropStaleSource(from)
		}
		return e.Remove(path)
	}
	if err != nil {
		return e.Degrade(path, err.Error())
	}

	fp := checksum.Sum(data)

	prev, err := e.lookup(path)
	if err != nil {
		return graph.Commit{}, err
	}
	if from := e.renameSource(path); from != "" {
		e.clearRename(path)
		if prev == nil {
			if prev, err = e.lookup(from); err != nil {
				return graph.Commit{}, err
			}
			e.logger.Debug("engine: rename", slog.String("from", from), slog.String("to", path))
		} else {
			e.dropStaleSource(from)
		}
	}

	var old graph.PagePayload
	if prev != nil {
		old, _ = prev.PagePayload()
		if old.Path == path && old.Fingerprint == fp && old.ParseError == "" && old.Degraded == "" {
			e.logger.Debug("engine: unchanged", slog.String("path", path))
			return graph.Commit{}, nil
		}
	}

	pp := graph.PagePayload{
		Path:        path,
		Key:         graph.KeyFor(path),
		Title:       old.Title,
		Fingerprint: fp,
		SyncedAt:    e.now(),
	}

	doc, perr := parser.Parse(path, data)
	if perr != nil {
		e.logger.Warn("engine: parse failed", slog.String("path", path), slog.String("error", perr.Error()))
		pp.ParseError = perr.Error()
		return e.commitPageOnly(prev, pp, len(data))
	}
	pp.Title = doc.Title

	var patch *graph.Patch
	if prev == nil {
		id := graph.NewID()
		d := newDiffer(id, nil)
		page := &graph.Entity{ID: id, Kind: graph.KindPage, Page: id, Payload: pp}
		setPageSpan(page, data)
		d.patch.Inserts = append(d.patch.Inserts, page)
		page.Children = d.children(id, nil, desiredTree(path, doc))
		patch = d.patch
	} else {
		sub, err := e.store.Subtree(prev.ID)
		if err != nil {
			return graph.Commit{}, err
		}
		d := newDiffer(prev.ID, sub)
		page := prev.Clone()
		setPageSpan(page, data)
		page.Payload = pp
		page.Children = d.children(prev.ID, prev.Children, desiredTree(path, doc))
		d.patch.Updates = append(d.patch.Updates, page)
		patch = d.patch
	}
	return e.apply(path, patch)
}

// dropStaleSource removes the page of an abandoned rename source once its
// file is gone.
func (e *Engine) dropStaleSource(from string) {
	if ok, _ := e.fs.Exists(from); ok {
		return
	}
	if _, err := e.Remove(from); err != nil {
		e.logger.Warn("engine: remove rename source failed", slog.String("path", from), slog.String("error", err.Error()))
	}
}

// setPageSpan makes the page cover the whole file.
func setPageSpan(page *graph.Entity, data []byte) {
	page.Span = graph.Span{End: len(data)}
	page.ContentSpan = page.Span
	page.Text = string(data)
}

func (e *Engine) lookup(path string) (*graph.Entity, error) {
	p, err := e.store.PageByPath(path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// commitPageOnly records a parse error on the page while keeping its last
// good subtree. A page seen for the first time is created empty.
func (e *Engine) commitPageOnly(prev *graph.Entity, pp graph.PagePayload, size int) (graph.Commit, error) {
	if prev == nil {
		id := graph.NewID()
		page := &graph.Entity{ID: id, Kind: graph.KindPage, Page: id, Span: graph.Span{End: size}, Payload: pp}
		return e.apply(pp.Path, &graph.Patch{Inserts: []*graph.Entity{page}})
	}
	page := prev.Clone()
	page.Payload = pp
	return e.apply(pp.Path, &graph.Patch{Updates: []*graph.Entity{page}})
}

// Remove deletes the page at path and its whole subtree. References to it
// stay in place, unresolved.
func (e *Engine) Remove(path string) (graph.Commit, error) {
	if e.renamePending(path) {
		e.logger.Debug("engine: removal deferred to rename", slog.String("path", path))
		return graph.Commit{}, nil
	}
	prev, err := e.lookup(path)
	if err != nil || prev == nil {
		return graph.Commit{}, err
	}
	sub, err := e.store.Subtree(prev.ID)
	if err != nil {
		return graph.Commit{}, err
	}
	patch := &graph.Patch{Removals: make([]graph.ID, 0, len(sub))}
	for _, ent := range sub {
		patch.Removals = append(patch.Removals, ent.ID)
	}
	return e.apply(path, patch)
}

// Degrade marks the page at path as unreadable. The next successful
// reparse clears the mark.
func (e *Engine) Degrade(path, cause string) (graph.Commit, error) {
	e.logger.Warn("engine: page degraded", slog.String("path", path), slog.String("cause", cause))
	prev, err := e.lookup(path)
	if err != nil {
		return graph.Commit{}, err
	}
	if prev == nil {
		id := graph.NewID()
		page := &graph.Entity{ID: id, Kind: graph.KindPage, Page: id, Payload: graph.PagePayload{
			Path: path, Key: graph.KeyFor(path), SyncedAt: e.now(), Degraded: cause,
		}}
		return e.apply(path, &graph.Patch{Inserts: []*graph.Entity{page}})
	}
	page := prev.Clone()
	pp, _ := page.PagePayload()
	if pp.Degraded == cause {
		return graph.Commit{}, nil
	}
	pp.Degraded = cause
	page.Payload = pp
	return e.apply(path, &graph.Patch{Updates: []*graph.Entity{page}})
}

func (e *Engine) apply(path string, patch *graph.Patch) (graph.Commit, error) {
	c, err := e.store.Apply(patch)
	if err != nil {
		e.logger.Error("engine: patch rejected", slog.String("path", path), slog.String("error", err.Error()))
		return graph.Commit{}, err
	}
	e.logger.Debug("engine: committed",
		slog.String("path", path),
		slog.Uint64("version", c.Version),
		slog.Int("inserted", c.Inserted),
		slog.Int("updated", c.Updated),
		slog.Int("removed", c.Removed))

	e.mu.Lock()
	hooks := append([]CommitHook(nil), e.hooks...)
	e.mu.Unlock()
	for _, h := range hooks {
		h(c)
	}
	return c, nil
}

// read returns the file bytes, retrying transient failures with
// exponential backoff. A missing file is reported immediately.
func (e *Engine) read(ctx context.Context, path string) ([]byte, error) {
	delay := e.readBackoff
	var lastErr error
	for attempt := 1; attempt <= e.readAttempts; attempt++ {
		data, err := e.fs.Read(path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		lastErr = err
		if attempt == e.readAttempts {
			break
		}
		e.logger.Debug("engine: read retry", slog.String("path", path), slog.Int("attempt", attempt), slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}
