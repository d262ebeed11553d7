package graph

import (
	"path"
	"strings"
)

var pageExtensions = []string{".wiki", ".md", ".markdown"}

// KeyFor returns the page key of a wiki-relative file path: the path
// without its page extension.
func KeyFor(p string) string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	for _, ext := range pageExtensions {
		if strings.HasSuffix(p, ext) {
			return strings.TrimSuffix(p, ext)
		}
	}
	return p
}

// ResolveLinkKey resolves a link target written in the page at fromPath to
// a page key. Targets are relative to the page's directory unless they start
// with "/" or use the diary: scheme. A trailing "/" points at the directory's
// index page. An empty target refers to the page itself.
func ResolveLinkKey(fromPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return KeyFor(fromPath)
	}
	if rest, ok := strings.CutPrefix(target, "diary:"); ok {
		target = "/diary/" + rest
	}
	if strings.HasSuffix(target, "/") {
		target += "index"
	}
	var joined string
	if strings.HasPrefix(target, "/") {
		joined = target
	} else {
		joined = path.Join(path.Dir(fromPath), target)
	}
	return KeyFor(joined)
}
