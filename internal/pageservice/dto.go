package pageservice

import (
	"time"

	"github.com/starford/wikigraph/internal/graph"
)

// PageSummary is a lightweight item in a page list.
type PageSummary struct {
	ID          graph.ID  `json:"id"`
	Path        string    `json:"path"`
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Fingerprint string    `json:"fingerprint"`
	Version     uint64    `json:"version"`
	SyncedAt    time.Time `json:"synced_at"`
	ParseError  string    `json:"parse_error,omitempty"`
	Degraded    string    `json:"degraded,omitempty"`
}

// PageDetail is the full representation of a page.
type PageDetail struct {
	PageSummary
	Content   string      `json:"content"`
	Tree      *EntityNode `json:"tree"`
	Backlinks []Backlink  `json:"backlinks"`
}

// EntityNode is an entity with its children expanded.
type EntityNode struct {
	*graph.Entity
	Nodes []*EntityNode `json:"nodes,omitempty"`
}

// Backlink is one reference edge pointing at a page key.
type Backlink struct {
	Source   graph.ID   `json:"source"`
	Kind     graph.Kind `json:"kind"`
	Text     string     `json:"text"`
	Page     graph.ID   `json:"page"`
	Path     string     `json:"path"`
	Key      string     `json:"key"`
	Resolved bool       `json:"resolved"`
	Target   graph.ID   `json:"target,omitempty"`
}

// Link is one outgoing link of a page.
type Link struct {
	Source      graph.ID `json:"source"`
	Target      string   `json:"target"`
	Key         string   `json:"key,omitempty"`
	Anchor      string   `json:"anchor,omitempty"`
	Description string   `json:"description,omitempty"`
	External    bool     `json:"external"`
	Resolved    graph.ID `json:"resolved,omitempty"`
}

// EditResult is returned by entity mutations. Entity is nil when the edit
// changed the document so that the entity no longer exists.
type EditResult struct {
	Entity *graph.Entity `json:"entity,omitempty"`
	Page   PageSummary   `json:"page"`
}

func summarize(e *graph.Entity) PageSummary {
	pp, _ := e.PagePayload()
	return PageSummary{
		ID:          e.ID,
		Path:        pp.Path,
		Key:         pp.Key,
		Title:       pp.Title,
		Fingerprint: pp.Fingerprint,
		Version:     pp.Version,
		SyncedAt:    pp.SyncedAt,
		ParseError:  pp.ParseError,
		Degraded:    pp.Degraded,
	}
}

// buildTree nests a pre-order subtree listing.
func buildTree(sub []*graph.Entity) *EntityNode {
	if len(sub) == 0 {
		return nil
	}
	nodes := make(map[graph.ID]*EntityNode, len(sub))
	for _, e := range sub {
		nodes[e.ID] = &EntityNode{Entity: e}
	}
	for _, e := range sub {
		n := nodes[e.ID]
		for _, c := range e.Children {
			if cn, ok := nodes[c]; ok {
				n.Nodes = append(n.Nodes, cn)
			}
		}
	}
	return nodes[sub[0].ID]
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
