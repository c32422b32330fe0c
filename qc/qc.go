// Package qc gates and annotates records with quality-control signals:
// score thresholds, near-duplicate detection, and summary tracking
// suitable for a run's final stats.qc footer.
package qc

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sievio/repocapsule/records"
)

// Mode selects how the controller treats scored records.
type Mode string

const (
	ModeOff      Mode = "off"
	ModePost     Mode = "post"
	ModeInline   Mode = "inline"
	ModeAdvisory Mode = "advisory"
)

// Result is the scorer's verdict on one record.
type Result struct {
	Score       *float64
	NearDup     bool
	DupFamilyID string
	Tokens      int
	Path        string
	Signals     map[string]any
}

// Scorer evaluates a record and reports quality signals.
type Scorer interface {
	ScoreRecord(rec records.Record) (Result, error)
}

// ParallelCloner is implemented by scorers that keep per-goroutine state
// and must be cloned before running concurrently.
type ParallelCloner interface {
	CloneForParallel() Scorer
}

// dupFamily tracks a duplicate family's size and a handful of example
// paths for reporting.
type dupFamily struct {
	Count    int      `json:"count"`
	Examples []string `json:"examples"`
}

// SummaryTracker aggregates QC outcomes across a run.
type SummaryTracker struct {
	Enabled            bool
	Mode               Mode
	MinScore           *float64
	DropNearDups       bool
	Scored             int
	Kept               int
	DroppedLowScore    int
	DroppedNearDup     int
	Errors             int
	CandidatesLowScore int
	CandidatesNearDup  int
	DupFamilies        map[string]*dupFamily
}

// NewSummaryTracker returns a tracker configured for a run.
func NewSummaryTracker(mode Mode, minScore *float64, dropNearDups bool) *SummaryTracker {
	return &SummaryTracker{
		Enabled:      true,
		Mode:         mode,
		MinScore:     minScore,
		DropNearDups: dropNearDups,
		DupFamilies:  map[string]*dupFamily{},
	}
}

func (t *SummaryTracker) isLowScore(res Result) bool {
	if t.MinScore == nil || res.Score == nil {
		return false
	}
	return *res.Score < *t.MinScore
}

// Observe updates counters from a scored result and reports whether the
// record should be kept. When applyGates is false, signals are still
// recorded but nothing is dropped (used by ADVISORY mode).
func (t *SummaryTracker) Observe(res Result, applyGates bool) bool {
	t.Scored++
	if res.DupFamilyID != "" {
		fam, ok := t.DupFamilies[res.DupFamilyID]
		if !ok {
			fam = &dupFamily{}
			t.DupFamilies[res.DupFamilyID] = fam
		}
		fam.Count++
		if len(fam.Examples) < 3 && res.Path != "" {
			fam.Examples = append(fam.Examples, res.Path)
		}
	}

	lowScore := t.isLowScore(res)
	nearDup := res.NearDup
	if lowScore {
		t.CandidatesLowScore++
	}
	if nearDup {
		t.CandidatesNearDup++
	}

	keep := true
	switch {
	case applyGates && lowScore:
		t.DroppedLowScore++
		keep = false
	case applyGates && t.DropNearDups && nearDup:
		t.DroppedNearDup++
		keep = false
	}
	if keep {
		t.Kept++
	}
	return keep
}

// RecordError increments the error counter for a failed scoring attempt.
func (t *SummaryTracker) RecordError() { t.Errors++ }

// AsMap renders the tracker as the stats.qc summary map.
func (t *SummaryTracker) AsMap() map[string]any {
	return map[string]any{
		"enabled":              t.Enabled,
		"mode":                 string(t.Mode),
		"min_score":            t.MinScore,
		"drop_near_dups":       t.DropNearDups,
		"scored":               t.Scored,
		"kept":                 t.Kept,
		"dropped_low_score":    t.DroppedLowScore,
		"dropped_near_dup":     t.DroppedNearDup,
		"errors":               t.Errors,
		"candidates_low_score": t.CandidatesLowScore,
		"candidates_near_dup":  t.CandidatesNearDup,
		"dup_families":         t.DupFamilies,
	}
}

// Config controls InlineQCController behavior.
type Config struct {
	Mode         Mode
	MinScore     *float64
	DropNearDups bool
	FailOnError  bool
	WriteCSV     bool
	CSVSuffix    string
}

// InlineQCController scores records and applies the gate/merge-meta
// pipeline described by the qc contract.
type InlineQCController struct {
	cfg          Config
	scorer       Scorer
	logger       *slog.Logger
	enforceDrops bool
	tracker      *SummaryTracker
}

// NewInlineQCController builds a controller bound to scorer. enforceDrops
// is true for INLINE mode and false for ADVISORY (score-and-annotate only).
func NewInlineQCController(cfg Config, scorer Scorer, logger *slog.Logger, enforceDrops bool) *InlineQCController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &InlineQCController{cfg: cfg, scorer: scorer, logger: logger, enforceDrops: enforceDrops}
	c.Reset()
	return c
}

// Reset starts a fresh tracker, as done at the top of every run.
func (c *InlineQCController) Reset() {
	c.tracker = NewSummaryTracker(c.cfg.Mode, c.cfg.MinScore, c.cfg.DropNearDups)
}

// Tracker exposes the live summary tracker.
func (c *InlineQCController) Tracker() *SummaryTracker { return c.tracker }

// ProcessRecord scores rec and returns either the (possibly annotated)
// record to keep, or nil to drop it.
func (c *InlineQCController) ProcessRecord(rec records.Record) (*records.Record, error) {
	res, err := c.scorer.ScoreRecord(rec)
	if err != nil {
		c.tracker.RecordError()
		if c.cfg.FailOnError {
			return nil, fmt.Errorf("qc: scoring failed: %w", err)
		}
		c.logger.Warn("qc scoring failed", "path", bestEffortPath(rec), "mode", c.cfg.Mode, "error", err)
		if c.enforceDrops {
			return nil, nil
		}
		return markQCError(rec), nil
	}

	keep := c.tracker.Observe(res, c.enforceDrops)
	mergeQCMeta(&rec, res)
	if !keep {
		return nil, nil
	}
	return &rec, nil
}

func bestEffortPath(rec records.Record) string {
	if p, ok := rec.Meta["path"].(string); ok {
		return p
	}
	return ""
}

func markQCError(rec records.Record) *records.Record {
	if rec.Meta == nil {
		rec.Meta = map[string]any{}
	}
	rec.Meta["qc_error"] = true
	return &rec
}

// mergeQCMeta folds canonical QC fields into rec.Meta and stows the rest
// under meta.extra.qc_signals, never overwriting an existing key except
// approx_tokens, which a non-zero res.Tokens always sets.
func mergeQCMeta(rec *records.Record, res Result) {
	if rec.Meta == nil {
		rec.Meta = map[string]any{}
	}
	if res.Tokens != 0 {
		rec.Meta["approx_tokens"] = res.Tokens
		if _, ok := rec.Meta["tokens"]; !ok {
			rec.Meta["tokens"] = res.Tokens
		}
	}
	if res.Score != nil {
		setDefault(rec.Meta, "score", *res.Score)
	}
	setDefault(rec.Meta, "near_dup", res.NearDup)
	if res.DupFamilyID != "" {
		setDefault(rec.Meta, "dup_family_id", res.DupFamilyID)
	}

	extra, ok := rec.Meta["extra"].(map[string]any)
	if !ok {
		extra = map[string]any{}
		rec.Meta["extra"] = extra
	}
	qcSignals, ok := extra["qc_signals"].(map[string]any)
	if !ok {
		qcSignals = map[string]any{}
		extra["qc_signals"] = qcSignals
	}
	for k, v := range res.Signals {
		if _, exists := qcSignals[k]; exists {
			continue
		}
		qcSignals[k] = v
	}
}

func setDefault(m map[string]any, key string, value any) {
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}

// WriteCSVReport re-scores each record in the primary JSONL at jsonlPath
// (one record per line, as written by sinks.JSONLSink) with a fresh
// scorer instance and writes a side-file with columns
// path,score,near_dup,dup_family_id,tokens.
func WriteCSVReport(jsonlPath string, scorer Scorer, csvSuffix string) error {
	in, err := os.Open(jsonlPath)
	if err != nil {
		return fmt.Errorf("qc: opening %s for CSV report: %w", jsonlPath, err)
	}
	defer in.Close()

	outPath := deriveCSVPath(jsonlPath, csvSuffix)
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("qc: creating %s: %w", outPath, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{"path", "score", "near_dup", "dup_family_id", "tokens"}); err != nil {
		return err
	}

	dec := json.NewDecoder(in)
	for dec.More() {
		var rec records.Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		kind, _ := rec.Meta["kind"].(string)
		if kind == "run_header" || kind == "run_summary" {
			continue
		}
		res, err := scorer.ScoreRecord(rec)
		if err != nil {
			continue
		}
		score := ""
		if res.Score != nil {
			score = strconv.FormatFloat(*res.Score, 'f', -1, 64)
		}
		row := []string{
			bestEffortPath(rec),
			score,
			strconv.FormatBool(res.NearDup),
			res.DupFamilyID,
			strconv.Itoa(res.Tokens),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func deriveCSVPath(jsonlPath, suffix string) string {
	if suffix != "" && (strings.ContainsRune(suffix, '/') || strings.ContainsRune(suffix, '\\')) {
		return suffix
	}
	if suffix == "" {
		suffix = "_quality.csv"
	}
	base := strings.TrimSuffix(jsonlPath, ".jsonl")
	return base + suffix
}
