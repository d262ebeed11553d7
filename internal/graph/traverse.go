package graph

import (
	"sort"

	"github.com/starford/wikigraph/internal/apperr"
)

// Direction selects which reference edges Traverse follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// Hit is a page reached by Traverse.
type Hit struct {
	Page  ID     `json:"page"`
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// Traverse walks resolved reference edges breadth-first from the start page
// up to depth hops and returns every page reached, start excluded. Reference
// cycles are cut by the visited set.
func (v *View) Traverse(start ID, dir Direction, depth int) ([]Hit, error) {
	e, ok := v.s.entities[start]
	if !ok || e.Kind != KindPage {
		return nil, apperr.ErrNotFound
	}
	if depth < 1 {
		depth = 1
	}

	visited := map[ID]bool{start: true}
	frontier := []ID{start}
	var hits []Hit
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []ID
		for _, page := range frontier {
			for _, n := range v.neighbors(page, dir) {
				if visited[n] {
					continue
				}
				visited[n] = true
				next = append(next, n)
				hits = append(hits, Hit{Page: n, Path: v.pagePath(n), Depth: d})
			}
		}
		frontier = next
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Depth != hits[j].Depth {
			return hits[i].Depth < hits[j].Depth
		}
		return hits[i].Path < hits[j].Path
	})
	return hits, nil
}

func (v *View) neighbors(page ID, dir Direction) []ID {
	var out []ID
	if dir == Outgoing || dir == Both {
		for m := range v.s.members[page] {
			if r, ok := v.s.refs[m]; ok && r.Resolved != "" && r.Resolved != page {
				out = append(out, r.Resolved)
			}
		}
	}
	if dir == Incoming || dir == Both {
		if pp, ok := v.s.entities[page].PagePayload(); ok {
			for src := range v.s.backlinks[pp.Key] {
				if r := v.s.refs[src]; r.Page != page {
					out = append(out, r.Page)
				}
			}
		}
	}
	return out
}
