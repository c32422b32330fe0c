package plan

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sievio/repocapsule/config"
)

func writeSourceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestBuildProducesRunnableEngineForLocalDirToJSONL(t *testing.T) {
	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "main.py", "print('hi')\n")

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.jsonl")

	cfg := config.Default()
	cfg.Sources.Specs = []config.SourceSpec{
		{Kind: "local_dir", Options: map[string]any{"root": srcDir}},
	}
	cfg.Sinks.Specs = []config.SinkSpec{
		{Kind: "jsonl", Options: map[string]any{"path": outPath}},
	}

	builder := NewBuilder(nil)
	p, err := builder.Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Engine == nil {
		t.Fatal("expected a non-nil engine")
	}
	if p.PrimaryJSONLPath != outPath {
		t.Fatalf("expected primary jsonl path %q, got %q", outPath, p.PrimaryJSONLPath)
	}

	stats, err := p.Engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Files != 1 {
		t.Fatalf("expected 1 file, got %d", stats.Files)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines++
	}
	if lines < 3 {
		t.Fatalf("expected header, data, and summary lines, got %d", lines)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.QC.Enabled = true
	cfg.QC.Mode = config.QCInline

	builder := NewBuilder(nil)
	if _, err := builder.Build(cfg); err == nil {
		t.Fatal("expected an error for inline qc mode without a scorer_id")
	}
}

func TestBuildSkipsUnregisteredSourceKindWithoutFailing(t *testing.T) {
	outDir := t.TempDir()
	cfg := config.Default()
	cfg.Sources.Specs = []config.SourceSpec{
		{Kind: "does_not_exist", Options: map[string]any{}},
	}
	cfg.Sinks.Specs = []config.SinkSpec{
		{Kind: "jsonl", Options: map[string]any{"path": filepath.Join(outDir, "out.jsonl")}},
	}

	builder := NewBuilder(nil)
	p, err := builder.Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Engine.Source != nil {
		t.Fatal("expected a nil source when no source spec resolved")
	}
}

func TestBuildRejectsSinkPathCollision(t *testing.T) {
	outDir := t.TempDir()
	samePath := filepath.Join(outDir, "out.jsonl")

	cfg := config.Default()
	cfg.Sinks.Specs = []config.SinkSpec{
		{Kind: "jsonl", Options: map[string]any{"path": samePath}},
		{Kind: "prompt_text", Options: map[string]any{"path": samePath}},
	}

	builder := NewBuilder(nil)
	if _, err := builder.Build(cfg); err == nil {
		t.Fatal("expected an error when the primary jsonl and a prompt_text sink collide")
	} else if !errors.Is(err, ErrSinkPathCollision) {
		t.Fatalf("expected ErrSinkPathCollision, got %v", err)
	}
}
