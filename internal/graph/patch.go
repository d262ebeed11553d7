package graph

import (
	"fmt"
	"sort"

	"github.com/starford/wikigraph/internal/apperr"
)

// Patch is a set of changes committed atomically by Store.Apply. Updates
// replace every attribute of the stored entity, child order included.
type Patch struct {
	Inserts  []*Entity
	Updates  []*Entity
	Removals []ID
}

// Empty reports whether the patch has no changes.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Inserts)+len(p.Updates)+len(p.Removals) == 0
}

// PageChange summarises what a commit did to one page.
type PageChange struct {
	ID      ID     `json:"id"`
	Path    string `json:"path"`
	Key     string `json:"key"`
	OldPath string `json:"old_path,omitempty"`
	Created bool   `json:"created,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Commit is the result of a successful Apply.
type Commit struct {
	Version  uint64       `json:"version"`
	Pages    []PageChange `json:"pages"`
	Inserted int          `json:"inserted"`
	Updated  int          `json:"updated"`
	Removed  int          `json:"removed"`
}

type txn struct {
	s       *Store
	overlay map[ID]*Entity
	removed map[ID]bool
}

func (t *txn) get(id ID) (*Entity, bool) {
	if t.removed[id] {
		return nil, false
	}
	if e, ok := t.overlay[id]; ok {
		return e, true
	}
	e, ok := t.s.entities[id]
	return e, ok
}

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvariant, fmt.Sprintf(format, args...))
}

// Apply validates p against the state it would produce and commits it as a
// single unit. A patch that would break the containment forest, reference a
// missing parent or duplicate a page path fails with apperr.ErrInvariant and
// leaves the store untouched. Page versions of every touched page are bumped
// and reference edges targeting created, removed or renamed pages are
// re-resolved.
func (s *Store) Apply(p *Patch) (Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Empty() {
		return Commit{Version: s.version}, nil
	}

	t := &txn{s: s, overlay: make(map[ID]*Entity), removed: make(map[ID]bool)}
	if err := t.stage(p); err != nil {
		return Commit{}, err
	}
	affected, err := t.validate(p)
	if err != nil {
		return Commit{}, err
	}
	return s.commit(p, t, affected), nil
}

func (t *txn) stage(p *Patch) error {
	for _, id := range p.Removals {
		if _, ok := t.s.entities[id]; !ok {
			return invariant("remove unknown entity %s", id)
		}
		if t.removed[id] {
			return invariant("entity %s removed twice", id)
		}
		t.removed[id] = true
	}
	for _, e := range p.Inserts {
		if e == nil || e.ID == "" {
			return invariant("insert without id")
		}
		if _, ok := t.s.entities[e.ID]; ok {
			return invariant("insert existing entity %s", e.ID)
		}
		if _, ok := t.overlay[e.ID]; ok {
			return invariant("entity %s inserted twice", e.ID)
		}
		t.overlay[e.ID] = e.Clone()
	}
	for _, e := range p.Updates {
		if e == nil {
			return invariant("nil update")
		}
		old, ok := t.s.entities[e.ID]
		if !ok || t.removed[e.ID] {
			return invariant("update unknown entity %s", e.ID)
		}
		if _, ok := t.overlay[e.ID]; ok {
			return invariant("entity %s updated twice", e.ID)
		}
		if old.Page != e.Page {
			return invariant("entity %s moved between pages", e.ID)
		}
		t.overlay[e.ID] = e.Clone()
	}

	for _, e := range t.overlay {
		if !e.Kind.Valid() {
			return invariant("entity %s has unknown kind %q", e.ID, e.Kind)
		}
		if e.Payload == nil {
			e.Payload = BlockPayload{Kind: e.Kind}
		}
		if e.Payload.kind() != e.Kind {
			return invariant("entity %s: %s payload on %s", e.ID, e.Payload.kind(), e.Kind)
		}
		if e.Kind == KindPage {
			pp, ok := e.PagePayload()
			if !ok || e.Page != e.ID || e.Parent != "" || pp.Path == "" {
				return invariant("malformed page %s", e.ID)
			}
			continue
		}
		if e.Parent == "" || e.Page == "" {
			return invariant("entity %s has no parent", e.ID)
		}
	}
	return nil
}

// validate checks the containment tree of every page the patch touches and
// page path uniqueness. It returns the affected page IDs.
func (t *txn) validate(p *Patch) ([]ID, error) {
	affected := make(map[ID]bool)
	insertedInto := make(map[ID]int)
	for _, e := range p.Inserts {
		affected[e.Page] = true
		insertedInto[e.Page]++
	}
	for _, e := range p.Updates {
		affected[e.Page] = true
	}
	for id := range t.removed {
		affected[t.s.entities[id].Page] = true
	}

	for page := range affected {
		members := t.s.members[page]
		removedMembers := 0
		for id := range members {
			if t.removed[id] {
				removedMembers++
			}
		}
		want := len(members) - removedMembers + insertedInto[page]

		root, ok := t.get(page)
		if !ok {
			if want != 0 {
				return nil, invariant("page %s removed with %d live entities", page, want)
			}
			continue
		}
		if root.Kind != KindPage {
			return nil, invariant("entity %s owns entities but is not a page", page)
		}
		reached := map[ID]bool{page: true}
		stack := []ID{page}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			e, _ := t.get(cur)
			for _, c := range e.Children {
				child, ok := t.get(c)
				if !ok {
					return nil, invariant("entity %s references missing child %s", cur, c)
				}
				if child.Parent != cur || child.Page != page {
					return nil, invariant("entity %s listed under %s but parented to %s", c, cur, child.Parent)
				}
				if reached[c] {
					return nil, invariant("entity %s reachable twice in page %s", c, page)
				}
				reached[c] = true
				stack = append(stack, c)
			}
		}
		if len(reached) != want {
			return nil, invariant("page %s: %d entities reachable, %d owned", page, len(reached), want)
		}
	}

	paths := make(map[string]ID)
	keys := make(map[string]ID)
	for _, e := range t.overlay {
		if e.Kind != KindPage {
			continue
		}
		pp := e.Payload.(PagePayload)
		if other, ok := paths[pp.Path]; ok {
			return nil, invariant("path %s claimed by %s and %s", pp.Path, other, e.ID)
		}
		paths[pp.Path] = e.ID
		if other, ok := keys[pp.Key]; ok {
			return nil, invariant("key %s claimed by %s and %s", pp.Key, other, e.ID)
		}
		keys[pp.Key] = e.ID
	}
	for path, id := range paths {
		if t.conflicts(t.s.byPath[path], id, func(pp PagePayload) string { return pp.Path }, path) {
			return nil, invariant("path %s already belongs to page %s", path, t.s.byPath[path])
		}
	}
	for key, id := range keys {
		if t.conflicts(t.s.byKey[key], id, func(pp PagePayload) string { return pp.Key }, key) {
			return nil, invariant("key %s already belongs to page %s", key, t.s.byKey[key])
		}
	}

	out := make([]ID, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	return out, nil
}

// conflicts reports whether existing still holds value after the patch
// while id claims it too.
func (t *txn) conflicts(existing, id ID, field func(PagePayload) string, value string) bool {
	if existing == "" || existing == id || t.removed[existing] {
		return false
	}
	if e, ok := t.overlay[existing]; ok {
		return field(e.Payload.(PagePayload)) == value
	}
	return true
}

func (s *Store) commit(p *Patch, t *txn, affected []ID) Commit {
	prevVersion := make(map[ID]uint64)
	before := make(map[ID]PagePayload)
	for _, id := range affected {
		if e, ok := s.entities[id]; ok {
			pp, _ := e.PagePayload()
			prevVersion[id] = pp.Version
			before[id] = pp
		}
	}

	changedKeys := make(map[string]bool)
	for _, id := range p.Removals {
		e := s.entities[id]
		s.unindexRef(id)
		if pp, ok := e.PagePayload(); ok {
			if s.byPath[pp.Path] == id {
				delete(s.byPath, pp.Path)
			}
			if s.byKey[pp.Key] == id {
				delete(s.byKey, pp.Key)
			}
			changedKeys[pp.Key] = true
		}
		if m := s.members[e.Page]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(s.members, e.Page)
			}
		}
		delete(s.entities, id)
	}
	for _, u := range p.Updates {
		e := t.overlay[u.ID]
		old := s.entities[e.ID]
		s.unindexRef(e.ID)
		if pp, ok := e.PagePayload(); ok {
			oldPP, _ := old.PagePayload()
			if oldPP.Path != pp.Path || oldPP.Key != pp.Key {
				if s.byPath[oldPP.Path] == e.ID {
					delete(s.byPath, oldPP.Path)
				}
				if s.byKey[oldPP.Key] == e.ID {
					delete(s.byKey, oldPP.Key)
				}
				changedKeys[oldPP.Key] = true
				changedKeys[pp.Key] = true
			}
			s.byPath[pp.Path] = e.ID
			s.byKey[pp.Key] = e.ID
		}
		s.entities[e.ID] = e
		s.indexRef(e)
	}
	for _, in := range p.Inserts {
		e := t.overlay[in.ID]
		s.entities[e.ID] = e
		m := s.members[e.Page]
		if m == nil {
			m = make(map[ID]struct{})
			s.members[e.Page] = m
		}
		m[e.ID] = struct{}{}
		if pp, ok := e.PagePayload(); ok {
			s.byPath[pp.Path] = e.ID
			s.byKey[pp.Key] = e.ID
			changedKeys[pp.Key] = true
		}
		s.indexRef(e)
	}

	for key := range changedKeys {
		resolved := s.byKey[key]
		for src := range s.backlinks[key] {
			s.refs[src].Resolved = resolved
		}
	}

	s.version++
	c := Commit{
		Version:  s.version,
		Inserted: len(p.Inserts),
		Updated:  len(p.Updates),
		Removed:  len(p.Removals),
	}
	for _, id := range affected {
		e, ok := s.entities[id]
		if !ok {
			old := before[id]
			c.Pages = append(c.Pages, PageChange{ID: id, Path: old.Path, Key: old.Key, Removed: true})
			continue
		}
		pp, _ := e.PagePayload()
		pp.Version = prevVersion[id] + 1
		if _, inOverlay := t.overlay[id]; !inOverlay {
			e = e.Clone()
			s.entities[id] = e
		}
		e.Payload = pp
		pc := PageChange{ID: id, Path: pp.Path, Key: pp.Key}
		if old, existed := before[id]; !existed {
			pc.Created = true
		} else if old.Path != pp.Path {
			pc.OldPath = old.Path
		}
		c.Pages = append(c.Pages, pc)
	}
	sort.Slice(c.Pages, func(i, j int) bool { return c.Pages[i].Path < c.Pages[j].Path })
	return c
}

func (s *Store) indexRef(e *Entity) {
	r, ok := refOf(e)
	if !ok {
		return
	}
	r.Resolved = s.byKey[r.Key]
	s.refs[e.ID] = &r
	set := s.backlinks[r.Key]
	if set == nil {
		set = make(map[ID]struct{})
		s.backlinks[r.Key] = set
	}
	set[e.ID] = struct{}{}
}

func (s *Store) unindexRef(id ID) {
	r, ok := s.refs[id]
	if !ok {
		return
	}
	delete(s.refs, id)
	if set := s.backlinks[r.Key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.backlinks, r.Key)
		}
	}
}
