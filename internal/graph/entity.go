// Package graph holds the in-memory entity graph: pages, their containment
// trees and the reference edges between them.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// ID identifies an entity. IDs are assigned once and never reused.
type ID string

// NewID returns a fresh random identifier.
func NewID() ID { return ID(uuid.NewString()) }

// Kind is the closed set of entity types.
type Kind string

const (
	KindPage       Kind = "page"
	KindSection    Kind = "section"
	KindParagraph  Kind = "paragraph"
	KindList       Kind = "list"
	KindListItem   Kind = "list_item"
	KindLink       Kind = "link"
	KindTag        Kind = "tag"
	KindCodeBlock  Kind = "code_block"
	KindMathBlock  Kind = "math_block"
	KindBlockquote Kind = "blockquote"
	KindTable      Kind = "table"
	KindDivider    Kind = "divider"

	KindDefinitionList Kind = "definition_list"
	KindTerm           Kind = "term"
	KindDefinition     Kind = "definition"
	KindComment        Kind = "comment"
)

var kinds = map[Kind]bool{
	KindPage: true, KindSection: true, KindParagraph: true, KindList: true,
	KindListItem: true, KindLink: true, KindTag: true, KindCodeBlock: true,
	KindMathBlock: true, KindBlockquote: true, KindTable: true, KindDivider: true,
	KindDefinitionList: true, KindTerm: true, KindDefinition: true, KindComment: true,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return kinds[k] }

// SingleLine reports whether content for this kind may not contain newlines.
func (k Kind) SingleLine() bool {
	switch k {
	case KindSection, KindListItem, KindLink, KindTag, KindTerm:
		return true
	}
	return false
}

// Span is a half-open byte range in the owning page's file.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is one node of the graph. Entities handed out by the store are
// copies; mutating them has no effect on the store.
type Entity struct {
	ID          ID      `json:"id"`
	Kind        Kind    `json:"kind"`
	Page        ID      `json:"page"`
	Parent      ID      `json:"parent,omitempty"`
	Children    []ID    `json:"children,omitempty"`
	Span        Span    `json:"span"`
	ContentSpan Span    `json:"content_span"`
	Text        string  `json:"text"`
	Payload     Payload `json:"payload,omitempty"`
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	if e.Children != nil {
		c.Children = append([]ID(nil), e.Children...)
	}
	return &c
}

// PagePayload returns the page attributes, or false if e is not a page.
func (e *Entity) PagePayload() (PagePayload, bool) {
	p, ok := e.Payload.(PagePayload)
	return p, ok
}

// Payload is the kind-specific part of an entity.
type Payload interface {
	kind() Kind
}

// PagePayload describes a page and the file it was read from.
type PagePayload struct {
	Path        string    `json:"path"`
	Key         string    `json:"key"`
	Title       string    `json:"title,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Version     uint64    `json:"version"`
	SyncedAt    time.Time `json:"synced_at"`
	ParseError  string    `json:"parse_error,omitempty"`
	Degraded    string    `json:"degraded,omitempty"`
}

type SectionPayload struct {
	Level int    `json:"level"`
	Title string `json:"title"`
}

type ListPayload struct {
	Ordered bool `json:"ordered"`
}

type ListItemPayload struct {
	Marker string `json:"marker"`
	Depth  int    `json:"depth"`
}

// LinkPayload describes a link. Key is the resolved target page key and is
// empty for external links.
type LinkPayload struct {
	Target      string `json:"target"`
	Key         string `json:"key,omitempty"`
	Anchor      string `json:"anchor,omitempty"`
	Description string `json:"description,omitempty"`
	External    bool   `json:"external,omitempty"`
}

type TagPayload struct {
	Name string `json:"name"`
}

type CodeBlockPayload struct {
	Lang string `json:"lang,omitempty"`
}

// BlockPayload is carried by kinds without extra attributes.
type BlockPayload struct {
	Kind Kind `json:"-"`
}

func (PagePayload) kind() Kind      { return KindPage }
func (SectionPayload) kind() Kind   { return KindSection }
func (ListPayload) kind() Kind      { return KindList }
func (ListItemPayload) kind() Kind  { return KindListItem }
func (LinkPayload) kind() Kind      { return KindLink }
func (TagPayload) kind() Kind       { return KindTag }
func (CodeBlockPayload) kind() Kind { return KindCodeBlock }
func (p BlockPayload) kind() Kind   { return p.Kind }

// Ref is a reference edge from a link or tag entity to a page key.
// Resolved is the target page, or empty while the target does not exist.
type Ref struct {
	Source   ID     `json:"source"`
	Page     ID     `json:"page"`
	Kind     Kind   `json:"kind"`
	Key      string `json:"key"`
	Resolved ID     `json:"resolved,omitempty"`
}

// refOf derives the reference edge carried by e, if any.
func refOf(e *Entity) (Ref, bool) {
	switch p := e.Payload.(type) {
	case LinkPayload:
		if p.External || p.Key == "" {
			return Ref{}, false
		}
		return Ref{Source: e.ID, Page: e.Page, Kind: KindLink, Key: p.Key}, true
	case TagPayload:
		if p.Name == "" {
			return Ref{}, false
		}
		return Ref{Source: e.ID, Page: e.Page, Kind: KindTag, Key: p.Name}, true
	}
	return Ref{}, false
}
