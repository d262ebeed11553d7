// Package parser turns wiki page bytes into an ordered tree of typed nodes
// with byte spans. Both vimwiki (= Heading =, {{{ }}}, :tag:) and Markdown
// (# Heading, ``` fences, #tag) flavours are recognised.
package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/wikigraph/internal/apperr"
)

// Kind identifies the node type produced by the parser.
type Kind string

const (
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

// Span is a half-open byte range [Start, End) into the parsed content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Node is one element of the document tree.
type Node struct {
	Kind Kind
	// Span is the full extent of the node, markup included.
	Span Span
	// Content is the editable region, e.g. a heading's title or the
	// inside of a link's brackets.
	Content Span
	Text    string

	Level       int    // section level
	Ordered     bool   // list
	Marker      string // list item
	Depth       int    // list item nesting
	Target      string // link
	Anchor      string // link
	Description string // link
	External    bool   // link
	Name        string // tag
	Lang        string // code block

	Children []*Node
}

// Document is the parse result for one file.
type Document struct {
	Path        string
	Title       string
	Frontmatter map[string]interface{}
	Size        int
	Children    []*Node
}

var (
	vimHeadingRe = regexp.MustCompile(`^\s*(=+)\s*(.*?)\s*(=+)\s*$`)
	mdHeadingRe  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	listItemRe   = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+(.*)$`)
	dividerRe    = regexp.MustCompile(`^\s*-{4,}\s*$`)
	// term:: definition, or a bare term:: followed by :: definition lines.
	defTermRe    = regexp.MustCompile(`^\s*([^:\s].*?)::(?:\s+(.*?))?\s*$`)
	defBodyRe    = regexp.MustCompile(`^\s*::\s+(\S.*?)\s*$`)
)

type line struct {
	start int // offset of first byte
	end   int // offset after last byte, excluding line terminator
	text  string
	no    int
}

// Parse builds the document tree for data. It is pure and deterministic.
// Malformed input (invalid UTF-8, unterminated preformatted or math block)
// yields an *apperr.ParseError.
func Parse(path string, data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, &apperr.ParseError{Path: path, Line: invalidUTF8Line(data), Msg: "invalid UTF-8"}
	}

	doc := &Document{Path: path, Size: len(data)}
	offset := 0
	fm, bodyStart := splitFrontmatter(data)
	if fm != nil {
		doc.Frontmatter = fm
		offset = bodyStart
	}

	p := &blockParser{path: path, data: data, lines: splitLines(data, offset)}
	if err := p.run(); err != nil {
		return nil, err
	}
	doc.Children = p.roots
	doc.Title = deriveTitle(fm, doc.Children)
	return doc, nil
}

func splitLines(data []byte, from int) []line {
	var out []line
	no := 1 + bytes.Count(data[:from], []byte("\n"))
	pos := from
	for pos < len(data) {
		nl := bytes.IndexByte(data[pos:], '\n')
		end := len(data)
		next := len(data)
		if nl >= 0 {
			end = pos + nl
			next = end + 1
		}
		if end > pos && data[end-1] == '\r' {
			end--
		}
		out = append(out, line{start: pos, end: end, text: string(data[pos:end]), no: no})
		no++
		pos = next
	}
	return out
}

func invalidUTF8Line(data []byte) int {
	no := 1
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return no
		}
		if r == '\n' {
			no++
		}
		i += size
	}
	return no
}

// splitFrontmatter detects a leading YAML block between --- delimiters and
// returns it along with the offset where the body starts. Invalid YAML is
// treated as body.
func splitFrontmatter(data []byte) (map[string]interface{}, int) {
	const delim = "---"
	if !bytes.HasPrefix(data, []byte(delim+"\n")) && !bytes.HasPrefix(data, []byte(delim+"\r\n")) {
		return nil, 0
	}
	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, 0
	}
	after := len(delim) + idx + 1 + len(delim)
	if after < len(data) && data[after] == '\r' {
		after++
	}
	if after < len(data) && data[after] != '\n' {
		return nil, 0
	}
	var fm map[string]interface{}
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil || fm == nil {
		return nil, 0
	}
	if after < len(data) {
		after++
	}
	return fm, after
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// top-level heading.
func deriveTitle(fm map[string]interface{}, roots []*Node) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, n := range roots {
		if n.Kind == KindSection {
			return n.Text
		}
	}
	return ""
}

type blockParser struct {
	path  string
	data  []byte
	lines []line
	i     int

	roots    []*Node
	sections []*Node
	lastEnd  int
}

func (p *blockParser) run() error {
	for p.i < len(p.lines) {
		l := p.lines[p.i]
		trimmed := strings.TrimSpace(l.text)
		switch {
		case trimmed == "":
			p.i++
		case strings.HasPrefix(trimmed, "%%+"):
			if err := p.blockComment(); err != nil {
				return err
			}
		case strings.HasPrefix(trimmed, "%%"):
			start := l.start + strings.Index(l.text, "%%") + 2
			p.emit(&Node{Kind: KindComment, Span: Span{l.start, l.end}, Content: Span{start, l.end}})
			p.i++
		case p.heading(l):
		case strings.HasPrefix(trimmed, "{{{"):
			if err := p.fenced(KindCodeBlock, "{{{", "}}}"); err != nil {
				return err
			}
		case strings.HasPrefix(trimmed, "```"):
			if err := p.fenced(KindCodeBlock, "```", "```"); err != nil {
				return err
			}
		case strings.HasPrefix(trimmed, "{{$"):
			if err := p.fenced(KindMathBlock, "{{$", "}}$"); err != nil {
				return err
			}
		case dividerRe.MatchString(l.text):
			p.emit(&Node{Kind: KindDivider, Span: Span{l.start, l.end}, Content: Span{l.end, l.end}})
			p.i++
		case strings.HasPrefix(trimmed, "|"):
			p.grouped(KindTable, func(t string) bool { return strings.HasPrefix(strings.TrimSpace(t), "|") })
		case strings.HasPrefix(trimmed, ">"):
			p.grouped(KindBlockquote, func(t string) bool { return strings.HasPrefix(strings.TrimSpace(t), ">") })
		case listItemRe.MatchString(l.text):
			p.list()
		case isTerm(l.text):
			p.definitions()
		default:
			p.paragraph()
		}
	}
	p.closeSections(0)
	return nil
}

// emit appends n to the innermost open section, or to the document root.
func (p *blockParser) emit(n *Node) {
	n.Text = string(p.data[n.Content.Start:n.Content.End])
	if len(p.sections) > 0 {
		top := p.sections[len(p.sections)-1]
		top.Children = append(top.Children, n)
	} else {
		p.roots = append(p.roots, n)
	}
	p.lastEnd = n.Span.End
}

// closeSections pops every open section whose level is >= level.
func (p *blockParser) closeSections(level int) {
	for len(p.sections) > 0 {
		top := p.sections[len(p.sections)-1]
		if top.Level < level {
			return
		}
		if p.lastEnd > top.Span.End {
			top.Span.End = p.lastEnd
		}
		p.sections = p.sections[:len(p.sections)-1]
	}
}

func (p *blockParser) heading(l line) bool {
	var level int
	var titleStart, titleEnd int
	if m := vimHeadingRe.FindStringSubmatchIndex(l.text); m != nil {
		open, close := m[3]-m[2], m[7]-m[6]
		if open != close || open > 6 || m[4] == m[5] {
			return false
		}
		level, titleStart, titleEnd = open, m[4], m[5]
	} else if m := mdHeadingRe.FindStringSubmatchIndex(l.text); m != nil {
		if m[4] == m[5] {
			return false
		}
		level, titleStart, titleEnd = m[3]-m[2], m[4], m[5]
	} else {
		return false
	}

	p.closeSections(level)
	sec := &Node{
		Kind:    KindSection,
		Level:   level,
		Span:    Span{l.start, l.end},
		Content: Span{l.start + titleStart, l.start + titleEnd},
	}
	p.emit(sec)
	sec.Children = append(sec.Children, inline(p.data, sec.Content)...)
	p.sections = append(p.sections, sec)
	p.i++
	return true
}

func (p *blockParser) fenced(kind Kind, open, close string) error {
	first := p.lines[p.i]
	trimmed := strings.TrimSpace(first.text)
	lang := strings.TrimSpace(strings.TrimPrefix(trimmed, open))
	if kind == KindCodeBlock && open == "{{{" {
		lang = vimwikiLang(lang)
	}
	for j := p.i + 1; j < len(p.lines); j++ {
		if strings.TrimSpace(p.lines[j].text) != close {
			continue
		}
		content := Span{first.end, first.end}
		if j > p.i+1 {
			content = Span{p.lines[p.i+1].start, p.lines[j-1].end}
		}
		p.emit(&Node{Kind: kind, Lang: lang, Span: Span{first.start, p.lines[j].end}, Content: content})
		p.i = j + 1
		return nil
	}
	return &apperr.ParseError{Path: p.path, Line: first.no, Msg: "unterminated " + open + " block"}
}

// vimwikiLang extracts the language from {{{class="go" style or {{{go.
func vimwikiLang(s string) string {
	if i := strings.Index(s, "class="); i >= 0 {
		s = s[i+len("class="):]
	}
	s = strings.Trim(s, `"' `)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	return s
}

func (p *blockParser) grouped(kind Kind, match func(string) bool) {
	first := p.lines[p.i]
	last := first
	for p.i < len(p.lines) && match(p.lines[p.i].text) {
		last = p.lines[p.i]
		p.i++
	}
	n := &Node{Kind: kind, Span: Span{first.start, last.end}, Content: Span{first.start, last.end}}
	p.emit(n)
	n.Children = inline(p.data, n.Content)
}

func (p *blockParser) list() {
	first := p.lines[p.i]
	list := &Node{Kind: KindList}
	var indents []int
	last := first
	for p.i < len(p.lines) {
		l := p.lines[p.i]
		m := listItemRe.FindStringSubmatchIndex(l.text)
		if m == nil {
			break
		}
		indent := m[3] - m[2]
		marker := l.text[m[4]:m[5]]
		if len(indents) == 0 {
			list.Ordered = marker[0] >= '0' && marker[0] <= '9'
		}
		for len(indents) > 0 && indent < indents[len(indents)-1] {
			indents = indents[:len(indents)-1]
		}
		if len(indents) == 0 || indent > indents[len(indents)-1] {
			indents = append(indents, indent)
		}
		item := &Node{
			Kind:    KindListItem,
			Marker:  marker,
			Depth:   len(indents) - 1,
			Span:    Span{l.start, l.end},
			Content: Span{l.start + m[6], l.start + m[7]},
		}
		item.Text = string(p.data[item.Content.Start:item.Content.End])
		item.Children = inline(p.data, item.Content)
		list.Children = append(list.Children, item)
		last = l
		p.i++
	}
	list.Span = Span{first.start, last.end}
	list.Content = list.Span
	p.emit(list)
}

// blockComment consumes a %%+ ... +%% comment, which may span lines. Its
// content is opaque: links and tags inside it are not extracted.
func (p *blockParser) blockComment() error {
	first := p.lines[p.i]
	open := first.start + strings.Index(first.text, "%%+") + 3
	for j := p.i; j < len(p.lines); j++ {
		l := p.lines[j]
		from := l.start
		if j == p.i {
			from = open
		}
		idx := strings.Index(string(p.data[from:l.end]), "+%%")
		if idx < 0 {
			continue
		}
		p.emit(&Node{Kind: KindComment, Span: Span{first.start, l.end}, Content: Span{open, from + idx}})
		p.i = j + 1
		return nil
	}
	return &apperr.ParseError{Path: p.path, Line: first.no, Msg: "unterminated %%+ comment"}
}

// definitions consumes a run of term:: definition lines. Each term holds its
// inline nodes followed by its definitions.
func (p *blockParser) definitions() {
	first := p.lines[p.i]
	dl := &Node{Kind: KindDefinitionList}
	var term *Node
	last := first
	for p.i < len(p.lines) {
		l := p.lines[p.i]
		if m := defBodyRe.FindStringSubmatchIndex(l.text); m != nil && term != nil {
			term.Children = append(term.Children, definition(p.data, Span{l.start, l.end}, Span{l.start + m[2], l.start + m[3]}))
			term.Span.End = l.end
		} else if m := defTermRe.FindStringSubmatchIndex(l.text); m != nil && isTerm(l.text) {
			term = &Node{
				Kind:    KindTerm,
				Span:    Span{l.start, l.end},
				Content: Span{l.start + m[2], l.start + len(strings.TrimRight(l.text[:m[3]], " \t"))},
			}
			term.Text = string(p.data[term.Content.Start:term.Content.End])
			term.Children = inline(p.data, term.Content)
			if m[4] >= 0 && m[5] > m[4] {
				def := Span{l.start + m[4], l.start + m[5]}
				term.Children = append(term.Children, definition(p.data, def, def))
			}
			dl.Children = append(dl.Children, term)
		} else {
			break
		}
		last = l
		p.i++
	}
	dl.Span = Span{first.start, last.end}
	dl.Content = dl.Span
	p.emit(dl)
}

func definition(data []byte, span, content Span) *Node {
	return &Node{
		Kind:     KindDefinition,
		Span:     span,
		Content:  content,
		Text:     string(data[content.Start:content.End]),
		Children: inline(data, content),
	}
}

// startsBlock reports whether l would open a non-paragraph block.
func (p *blockParser) startsBlock(l line) bool {
	t := strings.TrimSpace(l.text)
	return t == "" ||
		vimHeadingRe.MatchString(l.text) || mdHeadingRe.MatchString(l.text) ||
		strings.HasPrefix(t, "{{{") || strings.HasPrefix(t, "```") || strings.HasPrefix(t, "{{$") ||
		strings.HasPrefix(t, "|") || strings.HasPrefix(t, ">") || strings.HasPrefix(t, "%%") ||
		dividerRe.MatchString(l.text) || listItemRe.MatchString(l.text) ||
		isTerm(l.text) || defBodyRe.MatchString(l.text)
}

// isTerm reports whether text is a term:: line and not some other block that
// happens to contain "::".
func isTerm(text string) bool {
	t := strings.TrimSpace(text)
	for _, prefix := range []string{"%%", "|", ">", "{{{", "{{$", "```"} {
		if strings.HasPrefix(t, prefix) {
			return false
		}
	}
	if vimHeadingRe.MatchString(text) || mdHeadingRe.MatchString(text) ||
		listItemRe.MatchString(text) || dividerRe.MatchString(text) {
		return false
	}
	return defTermRe.MatchString(text)
}

func (p *blockParser) paragraph() {
	first := p.lines[p.i]
	last := first
	p.i++
	for p.i < len(p.lines) && !p.startsBlock(p.lines[p.i]) {
		last = p.lines[p.i]
		p.i++
	}
	n := &Node{Kind: KindParagraph, Span: Span{first.start, last.end}, Content: Span{first.start, last.end}}
	p.emit(n)
	n.Children = inline(p.data, n.Content)
}
