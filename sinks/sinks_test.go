package sinks

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sievio/repocapsule/records"
)

func TestJSONLSinkWritesOneRecordPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s := NewJSONLSink(path)
	if err := s.Open(nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(records.Record{Text: "hello", Meta: map[string]any{"n": i}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestGzipJSONLSinkRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl.gz")
	s := NewGzipJSONLSink(path)
	if err := s.Open(nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(records.Record{Text: "hi", Meta: map[string]any{}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gz.Close()
	scanner := bufio.NewScanner(gz)
	if !scanner.Scan() {
		t.Fatal("expected at least one decompressed line")
	}
	var rec records.Record
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Text != "hi" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPromptTextSinkRendersHeadingAndBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	s := NewPromptTextSink(path, "")
	if err := s.Open(nil); err != nil {
		t.Fatal(err)
	}
	rec := records.Record{
		Text: "the body",
		Meta: map[string]any{"path": "a.md", "chunk_id": 1, "n_chunks": 2, "lang": "Markdown"},
	}
	if err := s.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "### a.md [1/2] (lang=Markdown)\n\n") {
		t.Fatalf("unexpected heading in output: %q", out)
	}
	if !strings.Contains(out, "the body\n\n") {
		t.Fatalf("expected body followed by blank line, got %q", out)
	}
}

func TestParquetDatasetSinkPartitionsAndRollsRowGroups(t *testing.T) {
	dir := t.TempDir()
	s := NewParquetDatasetSink(dir, []string{"lang"}, 1, true)
	if err := s.Open(nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		rec := records.Record{Text: "x", Meta: map[string]any{"lang": "Go"}}
		if err := s.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "lang=Go"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 row-group shards with rowGroupSize=1, got %d", len(entries))
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
