package parser

import (
	"regexp"
	"sort"
	"strings"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\[\]\n]*)\]\]`)
	mdLinkRe   = regexp.MustCompile(`\[([^\[\]\n]+)\]\(([^()\s]+)\)`)
	vimTagRe   = regexp.MustCompile(`:(?:[^:\s]+:)+`)
	hashTagRe  = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
	commentRe  = regexp.MustCompile(`(?s)%%\+.*?\+%%`)
)

// inline extracts link and tag nodes from data[region], in document order.
func inline(data []byte, region Span) []*Node {
	text := string(data[region.Start:region.End])
	base := region.Start
	var out []*Node

	// Inline %%+ +%% comments hide whatever they contain.
	var hidden []*Node
	for _, m := range commentRe.FindAllStringIndex(text, -1) {
		hidden = append(hidden, &Node{Span: Span{base + m[0], base + m[1]}})
	}

	for _, m := range wikilinkRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(hidden, base+m[0], base+m[1]) {
			continue
		}
		raw := text[m[2]:m[3]]
		target, desc := raw, ""
		if i := strings.Index(raw, "|"); i >= 0 {
			target, desc = raw[:i], raw[i+1:]
		}
		if strings.TrimSpace(target) == "" {
			continue
		}
		out = append(out, linkNode(base, m[0], m[1], m[2], m[3], raw, target, desc))
	}
	for _, m := range mdLinkRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(out, base+m[0], base+m[1]) || overlaps(hidden, base+m[0], base+m[1]) {
			continue
		}
		desc, target := text[m[2]:m[3]], text[m[4]:m[5]]
		n := linkNode(base, m[0], m[1], m[4], m[5], target, target, desc)
		out = append(out, n)
	}

	for _, m := range vimTagRe.FindAllStringIndex(text, -1) {
		if !spaceBoundary(text, m[0]-1) || !spaceBoundary(text, m[1]) {
			continue
		}
		seq := text[m[0]:m[1]]
		pos := m[0] + 1
		for _, name := range strings.Split(strings.Trim(seq, ":"), ":") {
			start := base + pos
			end := start + len(name)
			pos += len(name) + 1
			if overlaps(out, start, end) || overlaps(hidden, start, end) {
				continue
			}
			out = append(out, &Node{Kind: KindTag, Name: name, Span: Span{start, end}, Content: Span{start, end}, Text: name})
		}
	}
	for _, m := range hashTagRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := base+m[2], base+m[3]
		if overlaps(out, start-1, end) || overlaps(hidden, start, end) {
			continue
		}
		name := text[m[2]:m[3]]
		out = append(out, &Node{Kind: KindTag, Name: name, Span: Span{start - 1, end}, Content: Span{start, end}, Text: name})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

func linkNode(base, s, e, cs, ce int, raw, target, desc string) *Node {
	target = strings.TrimSpace(target)
	n := &Node{
		Kind:        KindLink,
		Span:        Span{base + s, base + e},
		Content:     Span{base + cs, base + ce},
		Text:        raw,
		Description: strings.TrimSpace(desc),
	}
	if schemeRe.MatchString(target) && !strings.HasPrefix(target, "diary:") {
		n.External = true
		n.Target = target
		return n
	}
	if i := strings.Index(target, "#"); i >= 0 {
		n.Anchor = target[i+1:]
		target = target[:i]
	}
	n.Target = target
	return n
}

func overlaps(nodes []*Node, start, end int) bool {
	for _, n := range nodes {
		if start < n.Span.End && n.Span.Start < end {
			return true
		}
	}
	return false
}

// spaceBoundary reports whether text[i] is whitespace or outside text.
func spaceBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	switch text[i] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
