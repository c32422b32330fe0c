package sources

import (
	"archive/zip"
	"bytes"
	"testing"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestZipSourceStripsCommonTopLevelPrefix(t *testing.T) {
	data := buildZip(t, map[string]string{
		"repo-main/README.md":  "# hi",
		"repo-main/src/lib.go": "package lib",
	})
	src := NewZipSource(ZipOptions{Data: data, StripTopLevel: true})
	var paths []string
	if err := src.Iter(func(item FileItem) bool {
		paths = append(paths, item.Path)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(paths), paths)
	}
	for _, p := range paths {
		if p == "repo-main/README.md" || p == "repo-main/src/lib.go" {
			t.Fatalf("expected top-level prefix stripped, got %q", p)
		}
	}
}

func TestZipSourceFiltersHiddenAndExt(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.go":        "package a",
		"a.rb":        "puts 1",
		".hidden/x.go": "package x",
	})
	src := NewZipSource(ZipOptions{
		Data:        data,
		SkipHidden:  true,
		IncludeExts: []string{"go"},
	})
	var got []string
	if err := src.Iter(func(item FileItem) bool {
		got = append(got, item.Path)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "a.go" {
		t.Fatalf("expected only a.go to survive filtering, got %v", got)
	}
}
