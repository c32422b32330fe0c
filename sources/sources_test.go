package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsHidden(t *testing.T) {
	cases := map[string]bool{
		"a/b/c.go":      false,
		".git/config":   true,
		"a/.hidden/x":   true,
		"./a/b":         false,
		"a/b/.env":      true,
	}
	for p, want := range cases {
		if got := isHidden(p); got != want {
			t.Errorf("isHidden(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestShouldSkipByExt(t *testing.T) {
	include := normalizeExts([]string{"go", ".py"})
	if shouldSkipByExt("main.go", include, nil) {
		t.Fatal("main.go should survive an include list containing go")
	}
	if !shouldSkipByExt("main.rb", include, nil) {
		t.Fatal("main.rb should be skipped when not in include list")
	}

	exclude := normalizeExts([]string{".log"})
	if !shouldSkipByExt("debug.log", nil, exclude) {
		t.Fatal("debug.log should be skipped by exclude list")
	}
	if shouldSkipByExt("main.go", nil, exclude) {
		t.Fatal("main.go should survive an exclude list not containing go")
	}
}

func TestLocalDirSourceWalksAndFilters(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "main.go"), "package main")
	mustWrite(t, filepath.Join(root, "README.md"), "# hi")
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(root, ".git", "config"), "hidden")

	src := NewLocalDirSource(LocalDirOptions{Root: root, SkipHidden: true})
	var got []FileItem
	if err := src.Iter(func(item FileItem) bool {
		got = append(got, item)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 visible files, got %d: %+v", len(got), got)
	}
}

func TestLocalDirSourceStopsOnFalseYield(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a.txt"), "a")
	mustWrite(t, filepath.Join(root, "b.txt"), "b")

	src := NewLocalDirSource(LocalDirOptions{Root: root})
	count := 0
	if err := src.Iter(func(FileItem) bool {
		count++
		return false
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected iteration to stop after 1 item, got %d", count)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
