package index

import (
	"strings"

	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/parser"
)

// similarityThreshold is the minimum token Jaccard similarity for two
// same-kind siblings to be considered the same entity in the last
// matching pass.
const similarityThreshold = 0.5

// node is the desired state of one entity, derived from a parse.
type node struct {
	kind     graph.Kind
	span     graph.Span
	content  graph.Span
	text     string
	payload  graph.Payload
	children []*node
}

// desiredTree converts parser output into desired entity nodes. Link
// targets are resolved to page keys relative to path.
func desiredTree(path string, doc *parser.Document) []*node {
	out := make([]*node, 0, len(doc.Children))
	for _, n := range doc.Children {
		out = append(out, convert(path, n))
	}
	return out
}

func convert(path string, n *parser.Node) *node {
	d := &node{
		kind:    graph.Kind(n.Kind),
		span:    graph.Span{Start: n.Span.Start, End: n.Span.End},
		content: graph.Span{Start: n.Content.Start, End: n.Content.End},
		text:    n.Text,
	}
	switch n.Kind {
	case parser.KindSection:
		d.payload = graph.SectionPayload{Level: n.Level, Title: n.Text}
	case parser.KindList:
		d.payload = graph.ListPayload{Ordered: n.Ordered}
	case parser.KindListItem:
		d.payload = graph.ListItemPayload{Marker: n.Marker, Depth: n.Depth}
	case parser.KindLink:
		lp := graph.LinkPayload{Target: n.Target, Anchor: n.Anchor, Description: n.Description, External: n.External}
		if !n.External {
			lp.Key = graph.ResolveLinkKey(path, n.Target)
		}
		d.payload = lp
	case parser.KindTag:
		d.payload = graph.TagPayload{Name: n.Name}
	case parser.KindCodeBlock:
		d.payload = graph.CodeBlockPayload{Lang: n.Lang}
	default:
		d.payload = graph.BlockPayload{Kind: d.kind}
	}
	for _, c := range n.Children {
		d.children = append(d.children, convert(path, c))
	}
	return d
}

// differ accumulates the patch that turns a page's stored subtree into the
// desired one.
type differ struct {
	old   map[graph.ID]*graph.Entity
	page  graph.ID
	patch *graph.Patch
}

func newDiffer(page graph.ID, subtree []*graph.Entity) *differ {
	old := make(map[graph.ID]*graph.Entity, len(subtree))
	for _, e := range subtree {
		old[e.ID] = e
	}
	return &differ{old: old, page: page, patch: &graph.Patch{}}
}

// children reconciles the old child list of parent with the desired nodes
// and returns the resulting child IDs in document order.
func (d *differ) children(parent graph.ID, oldIDs []graph.ID, want []*node) []graph.ID {
	olds := make([]*graph.Entity, 0, len(oldIDs))
	for _, id := range oldIDs {
		if e, ok := d.old[id]; ok {
			olds = append(olds, e)
		}
	}
	match := matchSiblings(olds, want)

	ids := make([]graph.ID, len(want))
	used := make(map[graph.ID]bool, len(match))
	for i, n := range want {
		if oi, ok := match[i]; ok {
			prev := olds[oi]
			used[prev.ID] = true
			ids[i] = d.update(prev, parent, n)
			continue
		}
		ids[i] = d.insert(parent, n)
	}
	for _, e := range olds {
		if !used[e.ID] {
			d.remove(e)
		}
	}
	return ids
}

func (d *differ) update(prev *graph.Entity, parent graph.ID, n *node) graph.ID {
	next := &graph.Entity{
		ID:          prev.ID,
		Kind:        n.kind,
		Page:        d.page,
		Parent:      parent,
		Span:        n.span,
		ContentSpan: n.content,
		Text:        n.text,
		Payload:     n.payload,
	}
	next.Children = d.children(prev.ID, prev.Children, n.children)
	if !sameEntity(prev, next) {
		d.patch.Updates = append(d.patch.Updates, next)
	}
	return prev.ID
}

func (d *differ) insert(parent graph.ID, n *node) graph.ID {
	e := &graph.Entity{
		ID:          graph.NewID(),
		Kind:        n.kind,
		Page:        d.page,
		Parent:      parent,
		Span:        n.span,
		ContentSpan: n.content,
		Text:        n.text,
		Payload:     n.payload,
	}
	d.patch.Inserts = append(d.patch.Inserts, e)
	for _, c := range n.children {
		e.Children = append(e.Children, d.insert(e.ID, c))
	}
	return e.ID
}

func (d *differ) remove(e *graph.Entity) {
	d.patch.Removals = append(d.patch.Removals, e.ID)
	for _, c := range e.Children {
		if ce, ok := d.old[c]; ok {
			d.remove(ce)
		}
	}
}

func sameEntity(a, b *graph.Entity) bool {
	if a.Kind != b.Kind || a.Parent != b.Parent || a.Span != b.Span ||
		a.ContentSpan != b.ContentSpan || a.Text != b.Text || a.Payload != b.Payload ||
		len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if a.Children[i] != b.Children[i] {
			return false
		}
	}
	return true
}

// matchSiblings pairs desired nodes with old siblings of the same kind and
// returns desired index → old index. Passes, each over still-unmatched
// siblings: same ordinal among same-kind siblings with identical text,
// identical text (first unmatched old in document order), same ordinal,
// then highest token similarity at or above similarityThreshold with ties
// going to the earlier old sibling.
func matchSiblings(olds []*graph.Entity, want []*node) map[int]int {
	match := make(map[int]int)
	oldByKind := make(map[graph.Kind][]int)
	for i, e := range olds {
		oldByKind[e.Kind] = append(oldByKind[e.Kind], i)
	}
	newByKind := make(map[graph.Kind][]int)
	for i, n := range want {
		newByKind[n.kind] = append(newByKind[n.kind], i)
	}

	for kind, news := range newByKind {
		candidates := oldByKind[kind]
		taken := make(map[int]bool)

		for ord, ni := range news {
			if ord < len(candidates) && olds[candidates[ord]].Text == want[ni].text {
				match[ni] = candidates[ord]
				taken[candidates[ord]] = true
			}
		}

		for _, ni := range news {
			if _, ok := match[ni]; ok {
				continue
			}
			for _, oi := range candidates {
				if !taken[oi] && olds[oi].Text == want[ni].text {
					match[ni] = oi
					taken[oi] = true
					break
				}
			}
		}

		for ord, ni := range news {
			if _, ok := match[ni]; ok || ord >= len(candidates) {
				continue
			}
			if oi := candidates[ord]; !taken[oi] {
				match[ni] = oi
				taken[oi] = true
			}
		}

		for _, ni := range news {
			if _, ok := match[ni]; ok {
				continue
			}
			best, bestScore := -1, similarityThreshold
			for _, oi := range candidates {
				if taken[oi] {
					continue
				}
				if s := similarity(olds[oi].Text, want[ni].text); s >= bestScore && (best < 0 || s > bestScore) {
					best, bestScore = oi, s
				}
			}
			if best >= 0 {
				match[ni] = best
				taken[best] = true
			}
		}
	}
	return match
}

// similarity is the Jaccard index of the whitespace-separated token sets.
func similarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = true
	}
	return out
}
