package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/concurrency"
	"github.com/sievio/repocapsule/decode"
	"github.com/sievio/repocapsule/extract"
	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sinks"
	"github.com/sievio/repocapsule/sources"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func readJSONLKinds(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec records.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		kind, _ := rec.Meta["kind"].(string)
		kinds = append(kinds, kind)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return kinds
}

func TestEngineRunWritesHeaderRecordsAndSummary(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.py", "print('hi')\n")
	writeTestFile(t, dir, "b.py", "print('bye')\n")

	src := sources.NewLocalDirSource(sources.LocalDirOptions{Root: dir})

	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	sink := sinks.NewJSONLSink(outPath)

	header := &HeaderHook{}
	summary := &RunSummaryHook{Enabled: true, PrimaryJSONLPath: outPath}

	eng := &Engine{
		Source:      src,
		Sinks:       []sinks.Sink{sink},
		Hooks:       []LifecycleHook{header, summary},
		Executor:    concurrency.NewThreadExecutor[Item, ProcessedItem](nil),
		ExecOptions: concurrency.Options{MaxWorkers: 2},
		ExtractOpts: extract.Options{DecodeOpts: decode.DefaultOptions(), Policy: chunker.DefaultPolicy()},
		SkipHidden:  true,
	}

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Files != 2 {
		t.Fatalf("expected 2 files, got %d", stats.Files)
	}
	if stats.Records == 0 {
		t.Fatal("expected at least one record written")
	}

	kinds := readJSONLKinds(t, outPath)
	if len(kinds) < 3 {
		t.Fatalf("expected header, data, and summary lines, got %d lines", len(kinds))
	}
	if kinds[0] != "run_header" {
		t.Fatalf("expected first line kind=run_header, got %q", kinds[0])
	}
	if kinds[len(kinds)-1] != "run_summary" {
		t.Fatalf("expected last line kind=run_summary, got %q", kinds[len(kinds)-1])
	}
}

func TestEngineRunCountsSinkOpenFailureWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "hello\n")

	src := sources.NewLocalDirSource(sources.LocalDirOptions{Root: dir})

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker file: %v", err)
	}
	badSink := sinks.NewJSONLSink(filepath.Join(blocker, "out.jsonl"))

	eng := &Engine{
		Source:      src,
		Sinks:       []sinks.Sink{badSink},
		Executor:    concurrency.NewThreadExecutor[Item, ProcessedItem](nil),
		ExecOptions: concurrency.Options{MaxWorkers: 1},
		ExtractOpts: extract.Options{DecodeOpts: decode.DefaultOptions(), Policy: chunker.DefaultPolicy()},
		SkipHidden:  true,
	}

	stats, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run should not fail outright on a sink open error: %v", err)
	}
	if stats.SinkErrors == 0 {
		t.Fatal("expected a sink open failure to be counted")
	}
}
