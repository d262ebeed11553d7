package graph

import (
	"sort"
	"sync"

	"github.com/starford/wikigraph/internal/apperr"
)

// Store is the single owner of graph state. Readers run concurrently;
// Apply is exclusive and never performs I/O.
type Store struct {
	mu sync.RWMutex

	entities  map[ID]*Entity
	members   map[ID]map[ID]struct{} // page → every entity it owns, itself included
	byPath    map[string]ID
	byKey     map[string]ID
	refs      map[ID]*Ref                // source entity → edge
	backlinks map[string]map[ID]struct{} // target key → source entities
	version   uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entities:  make(map[ID]*Entity),
		members:   make(map[ID]map[ID]struct{}),
		byPath:    make(map[string]ID),
		byKey:     make(map[string]ID),
		refs:      make(map[ID]*Ref),
		backlinks: make(map[string]map[ID]struct{}),
	}
}

// View is a consistent read-only snapshot valid for the duration of a
// Store.View callback.
type View struct {
	s *Store
}

// View runs fn with the read lock held so that several lookups observe the
// same committed state.
func (s *Store) View(fn func(v *View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&View{s: s})
}

func (s *Store) read() (*View, func()) {
	s.mu.RLock()
	return &View{s: s}, s.mu.RUnlock
}

// Version returns the number of commits applied so far.
func (s *Store) Version() uint64 {
	v, done := s.read()
	defer done()
	return v.Version()
}

// The methods below are single-call shortcuts for the View method of the
// same name, each taking the read lock for the one lookup.

// Get returns a copy of the entity with the given ID.
func (s *Store) Get(id ID) (*Entity, error) {
	v, done := s.read()
	defer done()
	return v.Get(id)
}

// Children returns copies of the direct children of id in document order.
func (s *Store) Children(id ID) ([]*Entity, error) {
	v, done := s.read()
	defer done()
	return v.Children(id)
}

// PageByPath returns the page stored for a wiki-relative file path.
func (s *Store) PageByPath(p string) (*Entity, error) {
	v, done := s.read()
	defer done()
	return v.PageByPath(p)
}

// PageByKey returns the page with the given page key.
func (s *Store) PageByKey(key string) (*Entity, error) {
	v, done := s.read()
	defer done()
	return v.PageByKey(key)
}

// Pages returns every page sorted by path.
func (s *Store) Pages() []*Entity {
	v, done := s.read()
	defer done()
	return v.Pages()
}

// Subtree returns id and all its descendants in pre-order.
func (s *Store) Subtree(id ID) ([]*Entity, error) {
	v, done := s.read()
	defer done()
	return v.Subtree(id)
}

// Refs returns the outgoing reference edges of a page.
func (s *Store) Refs(page ID) ([]Ref, error) {
	v, done := s.read()
	defer done()
	return v.Refs(page)
}

// Backlinks returns the link edges pointing at a page key.
func (s *Store) Backlinks(key string) []Ref {
	v, done := s.read()
	defer done()
	return v.Backlinks(key)
}

// Tagged returns the tag edges carrying name.
func (s *Store) Tagged(name string) []Ref {
	v, done := s.read()
	defer done()
	return v.Tagged(name)
}

// Traverse walks reference edges from start; see View.Traverse.
func (s *Store) Traverse(start ID, dir Direction, depth int) ([]Hit, error) {
	v, done := s.read()
	defer done()
	return v.Traverse(start, dir, depth)
}

// Version returns the commit counter.
func (v *View) Version() uint64 { return v.s.version }

// Get returns a copy of the entity with the given ID.
func (v *View) Get(id ID) (*Entity, error) {
	e, ok := v.s.entities[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return e.Clone(), nil
}

// Children returns the direct children of id in document order.
func (v *View) Children(id ID) ([]*Entity, error) {
	e, ok := v.s.entities[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := make([]*Entity, 0, len(e.Children))
	for _, c := range e.Children {
		out = append(out, v.s.entities[c].Clone())
	}
	return out, nil
}

func (v *View) PageByPath(p string) (*Entity, error) {
	id, ok := v.s.byPath[p]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return v.s.entities[id].Clone(), nil
}

func (v *View) PageByKey(key string) (*Entity, error) {
	id, ok := v.s.byKey[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return v.s.entities[id].Clone(), nil
}

// Pages returns every page sorted by path.
func (v *View) Pages() []*Entity {
	paths := make([]string, 0, len(v.s.byPath))
	for p := range v.s.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*Entity, 0, len(paths))
	for _, p := range paths {
		out = append(out, v.s.entities[v.s.byPath[p]].Clone())
	}
	return out
}

// Subtree returns id and all its descendants in pre-order.
func (v *View) Subtree(id ID) ([]*Entity, error) {
	if _, ok := v.s.entities[id]; !ok {
		return nil, apperr.ErrNotFound
	}
	var out []*Entity
	stack := []ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e := v.s.entities[cur]
		out = append(out, e.Clone())
		for i := len(e.Children) - 1; i >= 0; i-- {
			stack = append(stack, e.Children[i])
		}
	}
	return out, nil
}

// Refs returns the outgoing reference edges of a page, in document order.
func (v *View) Refs(page ID) ([]Ref, error) {
	e, ok := v.s.entities[page]
	if !ok || e.Kind != KindPage {
		return nil, apperr.ErrNotFound
	}
	var out []Ref
	stack := []ID{page}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r, ok := v.s.refs[cur]; ok {
			out = append(out, *r)
		}
		ch := v.s.entities[cur].Children
		for i := len(ch) - 1; i >= 0; i-- {
			stack = append(stack, ch[i])
		}
	}
	return out, nil
}

// Backlinks returns every reference edge targeting key, resolved or not,
// ordered by source page path then source ID.
func (v *View) Backlinks(key string) []Ref {
	return v.incoming(key, "")
}

// Tagged returns the tag edges named name.
func (v *View) Tagged(name string) []Ref {
	return v.incoming(name, KindTag)
}

func (v *View) incoming(key string, kind Kind) []Ref {
	var out []Ref
	for src := range v.s.backlinks[key] {
		r := v.s.refs[src]
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := v.pagePath(out[i].Page), v.pagePath(out[j].Page)
		if pi != pj {
			return pi < pj
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func (v *View) pagePath(id ID) string {
	if e, ok := v.s.entities[id]; ok {
		if p, ok := e.PagePayload(); ok {
			return p.Path
		}
	}
	return ""
}
