package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLSourceReadsTextAndPathFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.jsonl")
	content := `{"text":"hello","path":"a.txt"}
{"text":"  "}
{"text":"world"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewJSONLSource(JSONLOptions{Paths: []string{path}})
	var items []FileItem
	if err := src.Iter(func(item FileItem) bool {
		items = append(items, item)
		return true
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 non-blank rows, got %d: %+v", len(items), items)
	}
	if items[0].Path != "a.txt" {
		t.Fatalf("expected explicit path field to be used, got %q", items[0].Path)
	}
	if items[1].Path == "" {
		t.Fatal("expected a synthesized path for the row missing a path field")
	}
}
