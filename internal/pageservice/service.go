// Package pageservice is the query/mutation layer over the entity graph.
// Queries are pure projections of the store. Mutations write files and then
// wait for the resulting reparse, so callers read their own writes.
package pageservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/index"
	"github.com/starford/wikigraph/internal/search"
	"github.com/starford/wikigraph/internal/storage"
	"github.com/starford/wikigraph/internal/writer"
)

// Service coordinates the graph, the writer and the sync scheduler.
type Service struct {
	store  *graph.Store
	engine *index.Engine
	sched  index.Submitter
	writer *writer.Writer
	fs     storage.Provider
	search *search.DB
	locks  *pathLocks
	logger *slog.Logger
}

// NewService creates a page service. searchDB may be nil, which disables
// full-text search.
func NewService(engine *index.Engine, sched index.Submitter, w *writer.Writer, fsys storage.Provider, searchDB *search.DB, logger *slog.Logger) *Service {
	return &Service{
		store:  engine.Store(),
		engine: engine,
		sched:  sched,
		writer: w,
		fs:     fsys,
		search: searchDB,
		locks:  newPathLocks(),
		logger: logger,
	}
}

// NormalizePath turns a page key or path into a wiki-relative file path
// with the page extension.
func (s *Service) NormalizePath(p string) (string, error) {
	if err := relativePath(p); err != nil {
		return "", &apperr.ValidationError{Field: "path", Err: err}
	}
	p = path.Clean(strings.TrimPrefix(strings.TrimSpace(p), "/"))
	if p == "." || p == "" {
		return "", apperr.Invalid("path", "must not be empty")
	}
	ext := s.fs.Extension()
	if path.Ext(p) != ext {
		p = graph.KeyFor(p) + ext
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Page returns the page at path with its entity tree and backlinks.
func (s *Service) Page(_ context.Context, p string) (*PageDetail, error) {
	p, err := s.NormalizePath(p)
	if err != nil {
		return nil, err
	}
	var out *PageDetail
	err = s.store.View(func(v *graph.View) error {
		page, err := v.PageByPath(p)
		if err != nil {
			return err
		}
		sub, err := v.Subtree(page.ID)
		if err != nil {
			return err
		}
		pp, _ := page.PagePayload()
		out = &PageDetail{
			PageSummary: summarize(page),
			Content:     page.Text,
			Tree:        buildTree(sub),
			Backlinks:   backlinks(v, v.Backlinks(pp.Key)),
		}
		return nil
	})
	return out, err
}

// Pages lists every page sorted by path.
func (s *Service) Pages(_ context.Context) []PageSummary {
	pages := s.store.Pages()
	out := make([]PageSummary, len(pages))
	for i, p := range pages {
		out[i] = summarize(p)
	}
	return out
}

// Entity returns one entity by ID.
func (s *Service) Entity(_ context.Context, id graph.ID) (*graph.Entity, error) {
	return s.store.Get(id)
}

// Subtree returns the entity and its descendants as a tree.
func (s *Service) Subtree(_ context.Context, id graph.ID) (*EntityNode, error) {
	sub, err := s.store.Subtree(id)
	if err != nil {
		return nil, err
	}
	return buildTree(sub), nil
}

// Links returns the outgoing links of a page in document order.
func (s *Service) Links(_ context.Context, p string) ([]Link, error) {
	p, err := s.NormalizePath(p)
	if err != nil {
		return nil, err
	}
	var out []Link
	err = s.store.View(func(v *graph.View) error {
		page, err := v.PageByPath(p)
		if err != nil {
			return err
		}
		refs, err := v.Refs(page.ID)
		if err != nil {
			return err
		}
		resolved := make(map[graph.ID]graph.ID, len(refs))
		for _, r := range refs {
			resolved[r.Source] = r.Resolved
		}
		sub, err := v.Subtree(page.ID)
		if err != nil {
			return err
		}
		for _, e := range sub {
			lp, ok := e.Payload.(graph.LinkPayload)
			if !ok {
				continue
			}
			out = append(out, Link{
				Source:      e.ID,
				Target:      lp.Target,
				Key:         lp.Key,
				Anchor:      lp.Anchor,
				Description: lp.Description,
				External:    lp.External,
				Resolved:    resolved[e.ID],
			})
		}
		return nil
	})
	return nonNilSlice(out), err
}

// Backlinks lists every reference to the page at p. The page does not need
// to exist: references to missing pages are returned unresolved.
func (s *Service) Backlinks(_ context.Context, p string) ([]Backlink, error) {
	p, err := s.NormalizePath(p)
	if err != nil {
		return nil, err
	}
	var out []Backlink
	err = s.store.View(func(v *graph.View) error {
		out = backlinks(v, v.Backlinks(graph.KeyFor(p)))
		return nil
	})
	return out, err
}

// SearchTag lists every tag entity named tag.
func (s *Service) SearchTag(_ context.Context, tag string) ([]Backlink, error) {
	tag = strings.Trim(strings.TrimSpace(tag), ":#")
	if tag == "" {
		return nil, apperr.Invalid("tag", "must not be empty")
	}
	var out []Backlink
	err := s.store.View(func(v *graph.View) error {
		out = backlinks(v, v.Tagged(tag))
		return nil
	})
	return out, err
}

// Related returns pages within depth reference hops of p, in either
// direction.
func (s *Service) Related(_ context.Context, p string, depth int) ([]graph.Hit, error) {
	p, err := s.NormalizePath(p)
	if err != nil {
		return nil, err
	}
	page, err := s.store.PageByPath(p)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.Traverse(page.ID, graph.Both, depth)
	return nonNilSlice(hits), err
}

// Search runs a full-text query over the search projection.
func (s *Service) Search(_ context.Context, query string, limit int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Invalid("q", "must not be empty")
	}
	if s.search == nil {
		return []search.Result{}, nil
	}
	res, err := s.search.Search(query, limit)
	return nonNilSlice(res), err
}

func backlinks(v *graph.View, refs []graph.Ref) []Backlink {
	out := make([]Backlink, 0, len(refs))
	for _, r := range refs {
		b := Backlink{Source: r.Source, Kind: r.Kind, Page: r.Page, Key: r.Key, Resolved: r.Resolved != "", Target: r.Resolved}
		if src, err := v.Get(r.Source); err == nil {
			b.Text = src.Text
		}
		if page, err := v.Get(r.Page); err == nil {
			pp, _ := page.PagePayload()
			b.Path = pp.Path
		}
		out = append(out, b)
	}
	return out
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// CreatePage writes a new page file and returns the page once it is synced.
func (s *Service) CreatePage(ctx context.Context, in CreatePageInput) (*PageDetail, error) {
	if err := invalid(in.Validate()); err != nil {
		return nil, err
	}
	p, err := s.NormalizePath(in.Path)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(p)
	defer unlock()
	if _, err := s.store.PageByPath(p); err == nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, p)
	}
	if err := s.writer.Create(ctx, p, []byte(in.Content)); err != nil {
		return nil, err
	}
	if err := s.sync(ctx, index.Item{Path: p, Op: index.OpReparse}); err != nil {
		return nil, err
	}
	s.logger.Info("pageservice: page created", slog.String("path", p))
	return s.Page(ctx, p)
}

// EditEntity replaces the editable content of an entity.
func (s *Service) EditEntity(ctx context.Context, in EditEntityInput) (*EditResult, error) {
	if err := invalid(in.Validate()); err != nil {
		return nil, err
	}
	id := graph.ID(in.ID)
	pagePath, unlock, err := s.lockPage(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	err = s.retryOnConflict(ctx, pagePath, func() error {
		target, pp, err := s.locateIn(id, pagePath)
		if err != nil {
			return err
		}
		in.singleLine = target.Kind.SingleLine()
		if err := invalid(in.Validate()); err != nil {
			return err
		}
		return s.writer.Write(ctx, pagePath, writer.Edit{
			Span:        target.ContentSpan,
			Content:     in.Content,
			Fingerprint: pp.Fingerprint,
		})
	})
	if err != nil {
		return nil, err
	}
	if err := s.sync(ctx, index.Item{Path: pagePath, Op: index.OpReparse}); err != nil {
		return nil, err
	}
	return s.result(id, pagePath)
}

// DeleteEntity removes an entity's bytes from its file. Deleting a page
// entity deletes the page.
func (s *Service) DeleteEntity(ctx context.Context, id graph.ID) (*EditResult, error) {
	e, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Kind == graph.KindPage {
		pp, _ := e.PagePayload()
		if err := s.DeletePage(ctx, pp.Path); err != nil {
			return nil, err
		}
		return &EditResult{Page: summarize(e)}, nil
	}

	pagePath, unlock, err := s.lockPage(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	err = s.retryOnConflict(ctx, pagePath, func() error {
		target, pp, err := s.locateIn(id, pagePath)
		if err != nil {
			return err
		}
		return s.writer.Remove(ctx, pagePath, target.Span, pp.Fingerprint)
	})
	if err != nil {
		return nil, err
	}
	if err := s.sync(ctx, index.Item{Path: pagePath, Op: index.OpReparse}); err != nil {
		return nil, err
	}
	return s.result(id, pagePath)
}

// DeletePage removes the page file and waits for the page to leave the graph.
func (s *Service) DeletePage(ctx context.Context, p string) error {
	p, err := s.NormalizePath(p)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(p)
	defer unlock()
	exists, err := s.fs.Exists(p)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := s.store.PageByPath(p); err != nil {
			return err
		}
	} else if err := s.fs.Delete(p); err != nil {
		return err
	}
	if err := s.sync(ctx, index.Item{Path: p, Op: index.OpReparse}); err != nil {
		return err
	}
	s.logger.Info("pageservice: page deleted", slog.String("path", p))
	return nil
}

// MovePage renames a page file. The page keeps its identity; references to
// the old key become unresolved and references to the new key resolve.
func (s *Service) MovePage(ctx context.Context, in MovePageInput) (*PageDetail, error) {
	if err := invalid(in.Validate()); err != nil {
		return nil, err
	}
	from, err := s.NormalizePath(in.From)
	if err != nil {
		return nil, err
	}
	to, err := s.NormalizePath(in.To)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, apperr.Invalid("to", "must differ from the source path")
	}
	unlock := s.locks.lock(from, to)
	defer unlock()
	if _, err := s.store.PageByPath(from); err != nil {
		return nil, err
	}
	if _, err := s.store.PageByPath(to); err == nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, to)
	}
	if exists, err := s.fs.Exists(to); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, to)
	}

	s.engine.ExpectRename(from, to)
	if err := s.fs.Move(from, to); err != nil {
		s.engine.CancelRename(to)
		return nil, err
	}
	if err := s.sync(ctx, index.Item{Path: to, Op: index.OpReparse, From: from}); err != nil {
		return nil, err
	}
	s.logger.Info("pageservice: page moved", slog.String("from", from), slog.String("to", to))
	return s.Page(ctx, to)
}

// locate returns an entity and its page. It reports ErrConflict, still
// returning both, when the page's stored spans no longer describe the file.
func (s *Service) locate(id graph.ID) (*graph.Entity, *graph.Entity, error) {
	var target, page *graph.Entity
	err := s.store.View(func(v *graph.View) error {
		var err error
		if target, err = v.Get(id); err != nil {
			return err
		}
		page, err = v.Get(target.Page)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	pp, _ := page.PagePayload()
	if pp.ParseError != "" {
		return target, page, fmt.Errorf("%w: %s has a pending parse error", apperr.ErrConflict, pp.Path)
	}
	if pp.Degraded != "" {
		return target, page, fmt.Errorf("%w: %s is unreadable", apperr.ErrConflict, pp.Path)
	}
	return target, page, nil
}

// lockPage locks the file of the page owning id and returns its path. The
// lookup is repeated under the lock in case the page moved meanwhile.
func (s *Service) lockPage(id graph.ID) (string, func(), error) {
	for {
		_, page, err := s.locate(id)
		if page == nil {
			return "", nil, err
		}
		pp, _ := page.PagePayload()
		unlock := s.locks.lock(pp.Path)
		if _, page, err = s.locate(id); page == nil {
			unlock()
			return "", nil, err
		}
		if cur, _ := page.PagePayload(); cur.Path == pp.Path {
			return pp.Path, unlock, nil
		}
		unlock()
	}
}

// locateIn is locate for an entity expected in the page at pagePath.
func (s *Service) locateIn(id graph.ID, pagePath string) (*graph.Entity, graph.PagePayload, error) {
	target, page, err := s.locate(id)
	if page == nil {
		return nil, graph.PagePayload{}, err
	}
	pp, _ := page.PagePayload()
	if err != nil {
		return nil, pp, err
	}
	if pp.Path != pagePath {
		return nil, pp, fmt.Errorf("%w: page moved to %s", apperr.ErrConflict, pp.Path)
	}
	return target, pp, nil
}

// retryOnConflict runs fn and, if the file changed underneath the store,
// resynchronizes the page at p and retries once. Callers hold p's lock.
func (s *Service) retryOnConflict(ctx context.Context, p string, fn func() error) error {
	err := fn()
	if !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	s.logger.Info("pageservice: stale page, resyncing",
		slog.String("path", p),
		slog.String("error", err.Error()),
	)
	if err := s.sync(ctx, index.Item{Path: p, Op: index.OpReparse}); err != nil {
		return err
	}
	return fn()
}

func (s *Service) result(id graph.ID, pagePath string) (*EditResult, error) {
	page, err := s.store.PageByPath(pagePath)
	if err != nil {
		return nil, err
	}
	res := &EditResult{Page: summarize(page)}
	if e, err := s.store.Get(id); err == nil {
		res.Entity = e
	}
	return res, nil
}

// sync submits a priority item and waits for it to commit.
func (s *Service) sync(ctx context.Context, it index.Item) error {
	_, err := s.sched.Submit(it, true).Wait(ctx)
	return err
}
