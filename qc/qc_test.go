package qc

import (
	"testing"

	"github.com/sievio/repocapsule/records"
)

func TestSummaryTrackerObserveKeepsAboveThreshold(t *testing.T) {
	min := 0.5
	tr := NewSummaryTracker(ModeInline, &min, false)
	score := 0.9
	keep := tr.Observe(Result{Score: &score}, true)
	if !keep {
		t.Fatal("expected record above min_score to be kept")
	}
	if tr.Kept != 1 || tr.DroppedLowScore != 0 {
		t.Fatalf("unexpected counters: kept=%d dropped=%d", tr.Kept, tr.DroppedLowScore)
	}
}

func TestSummaryTrackerObserveDropsBelowThreshold(t *testing.T) {
	min := 0.5
	tr := NewSummaryTracker(ModeInline, &min, false)
	score := 0.1
	keep := tr.Observe(Result{Score: &score}, true)
	if keep {
		t.Fatal("expected record below min_score to be dropped")
	}
	if tr.DroppedLowScore != 1 {
		t.Fatalf("dropped_low_score = %d, want 1", tr.DroppedLowScore)
	}
}

func TestSummaryTrackerAdvisoryNeverDrops(t *testing.T) {
	min := 0.99
	tr := NewSummaryTracker(ModeAdvisory, &min, true)
	score := 0.01
	keep := tr.Observe(Result{Score: &score, NearDup: true}, false)
	if !keep {
		t.Fatal("advisory mode must never drop")
	}
	if tr.CandidatesLowScore != 1 || tr.CandidatesNearDup != 1 {
		t.Fatalf("expected candidate counters to still increment: %+v", tr)
	}
}

type fakeScorer struct {
	result Result
	err    error
}

func (f fakeScorer) ScoreRecord(records.Record) (Result, error) { return f.result, f.err }

func TestInlineQCControllerDropsLowScore(t *testing.T) {
	min := 0.5
	score := 0.1
	ctrl := NewInlineQCController(Config{Mode: ModeInline, MinScore: &min}, fakeScorer{result: Result{Score: &score}}, nil, true)
	kept, err := ctrl.ProcessRecord(records.Record{Text: "x", Meta: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept != nil {
		t.Fatal("expected record to be dropped")
	}
	if ctrl.Tracker().DroppedLowScore != 1 {
		t.Fatalf("dropped_low_score = %d, want 1", ctrl.Tracker().DroppedLowScore)
	}
}

func TestInlineQCControllerMergesMetaWithoutOverwrite(t *testing.T) {
	score := 0.9
	ctrl := NewInlineQCController(Config{Mode: ModeInline}, fakeScorer{result: Result{Score: &score, Signals: map[string]any{"simhash": uint64(42)}}}, nil, true)
	rec := records.Record{Text: "hello", Meta: map[string]any{"tokens": 7}}
	kept, err := ctrl.ProcessRecord(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept == nil {
		t.Fatal("expected record to be kept")
	}
	if kept.Meta["tokens"] != 7 {
		t.Fatalf("existing tokens key was overwritten: %v", kept.Meta["tokens"])
	}
	extra, ok := kept.Meta["extra"].(map[string]any)
	if !ok {
		t.Fatal("expected meta.extra to be set")
	}
	signals, ok := extra["qc_signals"].(map[string]any)
	if !ok || signals["simhash"] != uint64(42) {
		t.Fatalf("expected qc_signals.simhash to be merged, got %+v", extra)
	}
}
