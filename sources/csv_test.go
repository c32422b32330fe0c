package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCSVSourceWithHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	content := "path,text\nfoo.txt,hello world\nbar.txt,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewCSVSource(CSVOptions{Paths: []string{path}, HasHeader: true})
	var items []FileItem
	if err := src.Iter(func(item FileItem) bool {
		items = append(items, item)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row with non-empty text, got %d", len(items))
	}
	if items[0].Path != "foo.txt" || string(items[0].Data) != "hello world" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestCSVSourceNoHeaderUsesColumnIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	if err := os.WriteFile(path, []byte("ignored,hello there\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewCSVSource(CSVOptions{Paths: []string{path}, HasHeader: false, TextColumnIndex: 1})
	var items []FileItem
	if err := src.Iter(func(item FileItem) bool {
		items = append(items, item)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || string(items[0].Data) != "hello there" {
		t.Fatalf("unexpected items: %+v", items)
	}
}
