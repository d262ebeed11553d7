package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func TestDecode_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	var s sample
	if err := Decode([]byte("name: ${SAMPLE_NAME}\ncount: 2\n"), "inline", &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "from-env" || s.Count != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestDecode_Validates(t *testing.T) {
	var s sample
	err := Decode([]byte("count: -1\n"), "inline", &s)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	s := sample{Name: "default"}

	found, err := LoadOptional(filepath.Join(dir, "missing.yaml"), &s)
	if err != nil || found {
		t.Fatalf("missing file: found=%v err=%v", found, err)
	}
	if s.Name != "default" {
		t.Errorf("target changed: %+v", s)
	}

	path := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(path, []byte("name: file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	found, err = LoadOptional(path, &s)
	if err != nil || !found || s.Name != "file" {
		t.Errorf("found=%v err=%v s=%+v", found, err, s)
	}

	if err := os.WriteFile(path, []byte("name: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOptional(path, &s); err == nil {
		t.Error("expected parse error")
	}
}
