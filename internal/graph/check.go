package graph

import (
	"errors"
	"fmt"
)

// Check verifies every structural invariant of the store: the containment
// forest, page indexes, and that the backlink index is the exact transpose
// of the live reference edges.
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&View{s: s}).Check()
}

// Check is Store.Check evaluated inside a view.
func (v *View) Check() error {
	s := v.s
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	pages := 0
	for id, e := range s.entities {
		if e.ID != id {
			fail("entity %s stored under %s", e.ID, id)
		}
		if !e.Kind.Valid() || e.Payload == nil || e.Payload.kind() != e.Kind {
			fail("entity %s: bad kind or payload", id)
		}
		if _, ok := s.members[e.Page][id]; !ok {
			fail("entity %s missing from members of %s", id, e.Page)
		}
		if e.Kind == KindPage {
			pages++
			pp, _ := e.PagePayload()
			if e.Parent != "" || e.Page != id {
				fail("page %s has parent or foreign owner", id)
			}
			if s.byPath[pp.Path] != id || s.byKey[pp.Key] != id {
				fail("page %s not indexed by path %q / key %q", id, pp.Path, pp.Key)
			}
		} else {
			parent, ok := s.entities[e.Parent]
			if !ok {
				fail("entity %s has missing parent %s", id, e.Parent)
			} else {
				n := 0
				for _, c := range parent.Children {
					if c == id {
						n++
					}
				}
				if n != 1 {
					fail("entity %s appears %d times under %s", id, n, e.Parent)
				}
				if parent.Page != e.Page {
					fail("entity %s owned by %s but parent by %s", id, e.Page, parent.Page)
				}
			}
		}
		for _, c := range e.Children {
			child, ok := s.entities[c]
			if !ok || child.Parent != id {
				fail("entity %s lists non-child %s", id, c)
			}
		}

		want, hasRef := refOf(e)
		got, stored := s.refs[id]
		switch {
		case hasRef != stored:
			fail("entity %s: ref present=%v, indexed=%v", id, hasRef, stored)
		case hasRef && (got.Key != want.Key || got.Kind != want.Kind || got.Page != e.Page):
			fail("entity %s: stale ref %+v", id, *got)
		}
	}
	if len(s.byPath) != pages || len(s.byKey) != pages {
		fail("page index sizes %d/%d, pages %d", len(s.byPath), len(s.byKey), pages)
	}

	reached := 0
	for _, id := range s.byPath {
		stack := []ID{id}
		seen := map[ID]bool{}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[cur] {
				fail("containment cycle through %s", cur)
				break
			}
			seen[cur] = true
			reached++
			if e, ok := s.entities[cur]; ok {
				stack = append(stack, e.Children...)
			}
		}
	}
	if reached != len(s.entities) {
		fail("%d entities reachable from pages, %d stored", reached, len(s.entities))
	}

	edges := 0
	for src, r := range s.refs {
		if _, ok := s.backlinks[r.Key][src]; !ok {
			fail("ref %s → %s missing from backlinks", src, r.Key)
		}
		if r.Resolved != s.byKey[r.Key] {
			fail("ref %s → %s resolved to %q, want %q", src, r.Key, r.Resolved, s.byKey[r.Key])
		}
	}
	for key, set := range s.backlinks {
		for src := range set {
			edges++
			if r, ok := s.refs[src]; !ok || r.Key != key {
				fail("backlink %s ← %s has no matching ref", key, src)
			}
		}
	}
	if edges != len(s.refs) {
		fail("%d backlinks for %d refs", edges, len(s.refs))
	}
	return errors.Join(errs...)
}
