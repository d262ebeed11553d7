package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempWiki(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir, "")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempWiki(t)
	content := []byte("= Hello =\nWorld\n")
	if err := s.Write("page.wiki", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("page.wiki")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWiki(t)
	if err := s.Write("a/b/c.wiki", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.wiki")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestExists(t *testing.T) {
	s := tempWiki(t)
	_ = s.Write("here.wiki", []byte("x"))
	ok, err := s.Exists("here.wiki")
	if err != nil || !ok {
		t.Errorf("Exists(here.wiki) = %v, %v", ok, err)
	}
	ok, err = s.Exists("gone.wiki")
	if err != nil || ok {
		t.Errorf("Exists(gone.wiki) = %v, %v", ok, err)
	}
	_ = os.MkdirAll(filepath.Join(s.Root(), "dir.wiki"), 0o755)
	if ok, _ := s.Exists("dir.wiki"); ok {
		t.Error("directories must not count as pages")
	}
}

func TestDelete(t *testing.T) {
	s := tempWiki(t)
	_ = s.Write("del.wiki", []byte("bye"))
	if err := s.Delete("del.wiki"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.wiki"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempWiki(t)
	_ = s.Write("old.wiki", []byte("data"))
	if err := s.Move("old.wiki", "sub/new.wiki"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.wiki")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.wiki"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempWiki(t)
	_ = s.Write("a.wiki", []byte("a"))
	_ = s.Write("sub/b.wiki", []byte("b"))
	_ = s.Write("readme.txt", []byte("not a page"))
	_ = s.Write(".git/c.wiki", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2 (%v)", len(items), items)
	}
	for _, it := range items {
		if it.Fingerprint == "" {
			t.Errorf("%s: empty fingerprint", it.Path)
		}
	}
}

func TestCustomExtension(t *testing.T) {
	s, err := NewFS(t.TempDir(), "md")
	if err != nil {
		t.Fatal(err)
	}
	if s.Extension() != ".md" {
		t.Errorf("ext = %q, want .md", s.Extension())
	}
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("b.wiki", []byte("b"))
	items, _ := s.List("")
	if len(items) != 1 || items[0].Path != "a.md" {
		t.Errorf("items = %v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWiki(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.wiki",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempWiki(t)
	_ = s.Write("atomic.wiki", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic.wiki", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.wiki")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".wikigraph-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/wikigraph-does-not-exist-"+t.Name(), "")
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "wikigraph-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name(), "")
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
