package parser

import (
	"errors"
	"testing"

	"github.com/starford/wikigraph/internal/apperr"
)

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse("test.wiki", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestParse_MarkdownHeading(t *testing.T) {
	doc := mustParse(t, "# B")
	if len(doc.Children) != 1 {
		t.Fatalf("children = %d, want 1", len(doc.Children))
	}
	sec := doc.Children[0]
	if sec.Kind != KindSection || sec.Level != 1 || sec.Text != "B" {
		t.Errorf("section = %+v", sec)
	}
	if doc.Title != "B" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestParse_VimwikiSectionsNest(t *testing.T) {
	src := "= Top =\nintro\n== Sub ==\nbody\n= Next =\n"
	doc := mustParse(t, src)
	if len(doc.Children) != 2 {
		t.Fatalf("roots = %d, want 2", len(doc.Children))
	}
	top := doc.Children[0]
	if top.Text != "Top" || len(top.Children) != 2 {
		t.Fatalf("top = %+v", top)
	}
	if top.Children[0].Kind != KindParagraph || top.Children[0].Text != "intro" {
		t.Errorf("intro = %+v", top.Children[0])
	}
	sub := top.Children[1]
	if sub.Kind != KindSection || sub.Level != 2 || len(sub.Children) != 1 {
		t.Errorf("sub = %+v", sub)
	}
	if got := src[top.Span.Start:top.Span.End]; got != "= Top =\nintro\n== Sub ==\nbody" {
		t.Errorf("top span = %q", got)
	}
}

func TestParse_MismatchedVimHeadingIsParagraph(t *testing.T) {
	doc := mustParse(t, "== a =\n")
	if doc.Children[0].Kind != KindParagraph {
		t.Errorf("kind = %s", doc.Children[0].Kind)
	}
}

func TestParse_Links(t *testing.T) {
	src := "see [[b]] and [[dir/c#top|C page]] or [[https://example.com]] [x](d.md)"
	doc := mustParse(t, src)
	para := doc.Children[0]
	if len(para.Children) != 4 {
		t.Fatalf("links = %d, want 4", len(para.Children))
	}
	b, c, ext, md := para.Children[0], para.Children[1], para.Children[2], para.Children[3]
	if b.Target != "b" || b.Text != "b" || src[b.Span.Start:b.Span.End] != "[[b]]" {
		t.Errorf("b = %+v", b)
	}
	if c.Target != "dir/c" || c.Anchor != "top" || c.Description != "C page" {
		t.Errorf("c = %+v", c)
	}
	if !ext.External {
		t.Errorf("expected external: %+v", ext)
	}
	if md.Target != "d.md" || md.Description != "x" {
		t.Errorf("md = %+v", md)
	}
}

func TestParse_DiaryLinkIsInternal(t *testing.T) {
	doc := mustParse(t, "[[diary:2024-01-01]]")
	l := doc.Children[0].Children[0]
	if l.External || l.Target != "diary:2024-01-01" {
		t.Errorf("link = %+v", l)
	}
}

func TestParse_Tags(t *testing.T) {
	src := ":work:urgent: plus #idea and a:b:c"
	doc := mustParse(t, src)
	tags := doc.Children[0].Children
	var names []string
	for _, n := range tags {
		if n.Kind != KindTag {
			t.Fatalf("unexpected kind %s", n.Kind)
		}
		names = append(names, n.Name)
		if src[n.Content.Start:n.Content.End] != n.Name {
			t.Errorf("content span mismatch for %q", n.Name)
		}
	}
	if len(names) != 3 || names[0] != "work" || names[1] != "urgent" || names[2] != "idea" {
		t.Errorf("tags = %v", names)
	}
}

func TestParse_Lists(t *testing.T) {
	src := "- one\n  - nested [[x]]\n- two\n\n1. first\n2. second\n"
	doc := mustParse(t, src)
	if len(doc.Children) != 2 {
		t.Fatalf("blocks = %d", len(doc.Children))
	}
	ul, ol := doc.Children[0], doc.Children[1]
	if ul.Kind != KindList || ul.Ordered || len(ul.Children) != 3 {
		t.Fatalf("ul = %+v", ul)
	}
	if ul.Children[1].Depth != 1 || ul.Children[1].Text != "nested [[x]]" {
		t.Errorf("nested = %+v", ul.Children[1])
	}
	if len(ul.Children[1].Children) != 1 {
		t.Errorf("nested link missing")
	}
	if !ol.Ordered || ol.Children[1].Marker != "2." {
		t.Errorf("ol = %+v", ol)
	}
}

func TestParse_Blocks(t *testing.T) {
	src := "{{{go\nfmt.Println()\n}}}\n{{$\nx^2\n}}$\n----\n| a | b |\n| c | d |\n> quoted\n"
	doc := mustParse(t, src)
	kinds := []Kind{KindCodeBlock, KindMathBlock, KindDivider, KindTable, KindBlockquote}
	if len(doc.Children) != len(kinds) {
		t.Fatalf("blocks = %d, want %d", len(doc.Children), len(kinds))
	}
	for i, k := range kinds {
		if doc.Children[i].Kind != k {
			t.Errorf("block %d kind = %s, want %s", i, doc.Children[i].Kind, k)
		}
	}
	code := doc.Children[0]
	if code.Lang != "go" || code.Text != "fmt.Println()" {
		t.Errorf("code = %+v", code)
	}
	if doc.Children[1].Text != "x^2" {
		t.Errorf("math = %q", doc.Children[1].Text)
	}
}

func TestParse_FencedMarkdown(t *testing.T) {
	doc := mustParse(t, "```python\nprint(1)\n```\n")
	if doc.Children[0].Kind != KindCodeBlock || doc.Children[0].Lang != "python" {
		t.Errorf("code = %+v", doc.Children[0])
	}
}

func TestParse_UnterminatedBlock(t *testing.T) {
	_, err := Parse("bad.wiki", []byte("text\n{{{\nnever closed\n"))
	var pe *apperr.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if pe.Line != 2 || pe.Path != "bad.wiki" {
		t.Errorf("parse error = %+v", pe)
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	_, err := Parse("bad.wiki", []byte("ok\n\xff\xfe"))
	var pe *apperr.ParseError
	if !errors.As(err, &pe) || pe.Line != 2 {
		t.Fatalf("err = %v", err)
	}
}

func TestParse_Frontmatter(t *testing.T) {
	src := "---\ntitle: Hello\n---\n# Other\n"
	doc := mustParse(t, src)
	if doc.Title != "Hello" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Children) != 1 || doc.Children[0].Span.Start != len("---\ntitle: Hello\n---\n") {
		t.Errorf("children = %+v", doc.Children)
	}
}

func TestParse_InvalidFrontmatterIsBody(t *testing.T) {
	doc := mustParse(t, "---\n: invalid: yaml: {\n---\nBody\n")
	if doc.Frontmatter != nil {
		t.Errorf("expected nil frontmatter")
	}
}

func TestParse_Deterministic(t *testing.T) {
	src := "= A =\n- [[x]] :t:\n"
	a := mustParse(t, src)
	b := mustParse(t, src)
	if a.Children[0].Children[0].Children[0].Children[0].Span != b.Children[0].Children[0].Children[0].Children[0].Span {
		t.Error("spans differ between identical parses")
	}
}

func TestParse_CRLF(t *testing.T) {
	doc := mustParse(t, "= A =\r\nbody\r\n")
	if doc.Children[0].Text != "A" {
		t.Errorf("title = %q", doc.Children[0].Text)
	}
	if doc.Children[0].Children[0].Text != "body" {
		t.Errorf("body = %q", doc.Children[0].Children[0].Text)
	}
}

func TestParse_DefinitionList(t *testing.T) {
	src := "Term 1:: first definition\n:: second with [[link]]\nTerm 2::\n:: only\n"
	doc := mustParse(t, src)
	if len(doc.Children) != 1 || doc.Children[0].Kind != KindDefinitionList {
		t.Fatalf("roots = %+v", doc.Children)
	}
	terms := doc.Children[0].Children
	if len(terms) != 2 {
		t.Fatalf("terms = %d, want 2", len(terms))
	}
	if terms[0].Kind != KindTerm || terms[0].Text != "Term 1" || terms[1].Text != "Term 2" {
		t.Errorf("terms = %q, %q", terms[0].Text, terms[1].Text)
	}
	defs := terms[0].Children
	if len(defs) != 2 || defs[0].Kind != KindDefinition || defs[0].Text != "first definition" {
		t.Fatalf("term 1 definitions = %+v", defs)
	}
	if defs[1].Text != "second with [[link]]" || len(defs[1].Children) != 1 || defs[1].Children[0].Target != "link" {
		t.Errorf("second definition = %+v", defs[1])
	}
	if got := terms[1].Children; len(got) != 1 || got[0].Text != "only" {
		t.Errorf("term 2 definitions = %+v", got)
	}
	if terms[0].Span.End != defs[1].Span.End {
		t.Errorf("term span %v does not cover its definitions", terms[0].Span)
	}
	if got := src[terms[0].Content.Start:terms[0].Content.End]; got != "Term 1" {
		t.Errorf("term content = %q", got)
	}
}

func TestParse_DoubleColonInsideOtherBlocks(t *testing.T) {
	doc := mustParse(t, "= Title:: x =\n- item:: y\nstd::vector is a paragraph\n")
	sec := doc.Children[0]
	if sec.Kind != KindSection {
		t.Fatalf("first = %s, want section", sec.Kind)
	}
	var kinds []Kind
	for _, c := range sec.Children {
		kinds = append(kinds, c.Kind)
	}
	if len(kinds) != 2 || kinds[0] != KindList || kinds[1] != KindParagraph {
		t.Errorf("kinds = %v, want [list paragraph]", kinds)
	}
}

func TestParse_CommentsHideLinks(t *testing.T) {
	src := "%% see [[hidden]] :secret:\n%%+ block\n[[also-hidden]]\n+%%\ntext %%+ [[inline]] +%% and [[shown]]\n"
	doc := mustParse(t, src)
	if len(doc.Children) != 3 {
		t.Fatalf("roots = %d, want 3", len(doc.Children))
	}
	line, block, para := doc.Children[0], doc.Children[1], doc.Children[2]
	if line.Kind != KindComment || line.Text != " see [[hidden]] :secret:" || len(line.Children) != 0 {
		t.Errorf("line comment = %+v", line)
	}
	if block.Kind != KindComment || block.Text != " block\n[[also-hidden]]\n" || len(block.Children) != 0 {
		t.Errorf("block comment = %+v", block)
	}
	if para.Kind != KindParagraph || len(para.Children) != 1 || para.Children[0].Target != "shown" {
		t.Errorf("paragraph children = %+v", para.Children)
	}
}

func TestParse_UnterminatedComment(t *testing.T) {
	_, err := Parse("c.wiki", []byte("intro\n\n%%+ never closed\n"))
	var pe *apperr.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if pe.Line != 3 {
		t.Errorf("line = %d, want 3", pe.Line)
	}
}
