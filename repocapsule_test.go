package repocapsule

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sievio/repocapsule/config"
)

func TestRunEndToEndLocalDirToJSONL(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.jsonl")

	cfg := config.Default()
	cfg.Sources.Specs = []config.SourceSpec{
		{Kind: "local_dir", Options: map[string]any{"root": srcDir}},
	}
	cfg.Sinks.Specs = []config.SinkSpec{
		{Kind: "jsonl", Options: map[string]any{"path": outPath}},
	}

	stats, err := Run(context.Background(), cfg)
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
		lines++
	}
	if lines < 3 {
		t.Fatalf("expected header, data, and summary lines, got %d", lines)
	}
}

func TestBuildReturnsPlanWithoutRunning(t *testing.T) {
	outDir := t.TempDir()
	cfg := config.Default()
	cfg.Sinks.Specs = []config.SinkSpec{
		{Kind: "jsonl", Options: map[string]any{"path": filepath.Join(outDir, "out.jsonl")}},
	}

	p, err := Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Engine == nil {
		t.Fatal("expected a non-nil engine")
	}
	if _, err := os.Stat(filepath.Join(outDir, "out.jsonl")); err == nil {
		t.Fatal("Build should not have executed the plan")
	}
}
