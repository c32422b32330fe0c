package config

import (
	"errors"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejectsInlineQCWithoutScorer(t *testing.T) {
	cfg := Default()
	cfg.QC.Enabled = true
	cfg.QC.Mode = QCInline
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for inline QC mode without a scorer_id")
	}
	if !errors.Is(err, ErrScorerRequired) {
		t.Fatalf("expected ErrScorerRequired, got %v", err)
	}
}

func TestValidateRejectsWindowSmallerThanWorkers(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.MaxWorkers = 8
	cfg.Pipeline.SubmitWindow = 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when submit_window < max_workers")
	}
}

func TestCloneProducesIndependentCopy(t *testing.T) {
	cfg := Default()
	cfg.Metadata = map[string]any{"run": "a"}
	clone, err := cfg.Clone()
	if err != nil {
		t.Fatal(err)
	}
	clone.Metadata["run"] = "b"
	if cfg.Metadata["run"] != "a" {
		t.Fatal("mutating the clone's metadata should not affect the original")
	}
}
