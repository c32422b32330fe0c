// Package pipeline runs the extraction engine: it streams items out of a
// source through the shared executor, threads each file's records through
// a chain of lifecycle hooks, writes them to every open sink, and reports
// run-level statistics. It does not resolve sources, sinks, or executors
// itself -- that is the plan package's job; pipeline.Run takes fully
// wired runtime objects.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sievio/repocapsule/concurrency"
	"github.com/sievio/repocapsule/extract"
	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sinks"
	"github.com/sievio/repocapsule/sources"
)

// Stats accumulates run-level counters. Once a run starts, both the
// producer goroutine (file/skip/byte counters) and the single result
// consumer (record/sink-error counters) mutate it concurrently; callers
// reading mid-run must not do so without the same lock stream() uses
// internally, and should instead read the *Stats Run returns once it
// has returned.
type Stats struct {
	Files            int            `json:"files"`
	Records          int            `json:"records"`
	BytesIn          int64          `json:"bytes_in"`
	SkippedHidden    int            `json:"skipped_hidden"`
	SkippedExt       int            `json:"skipped_ext"`
	SkippedTooLarge  int            `json:"skipped_too_large"`
	SourceErrors     int            `json:"source_errors"`
	SinkErrors       int            `json:"sink_errors"`
	ExtByCount       map[string]int `json:"ext_counts,omitempty"`
}

func newStats() *Stats {
	return &Stats{ExtByCount: map[string]int{}}
}

func (s *Stats) bumpExt(relPath string) {
	ext := extOf(relPath)
	if ext == "" {
		ext = "(none)"
	}
	s.ExtByCount[ext]++
}

func extOf(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		switch relPath[i] {
		case '.':
			return relPath[i:]
		case '/':
			return ""
		}
	}
	return ""
}

// SummaryView is the read-only projection of Stats (plus a QC summary and
// the primary JSONL path) that RunSummaryHook renders into the run_summary
// footer record.
type SummaryView struct {
	Stats           Stats          `json:"stats"`
	QCSummary       map[string]any `json:"qc_summary,omitempty"`
	PrimaryJSONLPath string        `json:"primary_jsonl_path,omitempty"`
}

// RunArtifacts bundles the footer record and its stats view, built once
// at run end and handed to every lifecycle hook's OnArtifacts.
type RunArtifacts struct {
	SummaryRecord records.Record
	SummaryView   SummaryView
}

// RunContext is threaded through every lifecycle hook call. Runtime holds
// whatever the caller wants hooks to reach (sinks, config, metadata); the
// pipeline package does not interpret it beyond passing it along.
type RunContext struct {
	Context context.Context
	Stats   *Stats
	Runtime any
}

// LifecycleHook observes a run's start, each surviving record, and its
// end. OnRecord may transform or veto a record by returning (rec, false).
type LifecycleHook interface {
	OnRunStart(ctx *RunContext) error
	OnRecord(ctx *RunContext, rec records.Record) (records.Record, bool)
	OnRunEnd(ctx *RunContext) error
}

// ArtifactsHook is an optional extension a LifecycleHook can additionally
// implement to observe the final RunArtifacts once built (RunSummaryHook
// dispatches to every other registered hook that implements this).
type ArtifactsHook interface {
	OnArtifacts(artifacts RunArtifacts, ctx *RunContext) error
}

// Item is one unit of work pulled from a Source: its raw bytes plus path
// metadata, already filtered by the caller's hidden/extension/size rules.
type Item struct {
	RelPath string
	Data    []byte
	Size    int64
}

// ProcessedItem is what the executor produces per Item: the records the
// extraction pipeline built for it (possibly empty).
type ProcessedItem struct {
	RelPath string
	Recs    []records.Record
}

// runtimeView is what RunContext.Runtime holds during a run: the engine
// plus the subset of its sinks that opened successfully, so lifecycle
// hooks can write header/footer records without re-deriving that set.
type runtimeView struct {
	Engine    *Engine
	OpenSinks []sinks.Sink
	RunID     string
}

// Engine wires a source, a set of sinks, lifecycle hooks, and an executor
// into a single run.
type Engine struct {
	Source       sources.Source
	Sinks        []sinks.Sink
	Hooks        []LifecycleHook
	Executor     concurrency.Executor[Item, ProcessedItem]
	ExecOptions  concurrency.Options
	ExtractOpts  extract.Options
	IncludeExts  map[string]bool
	ExcludeExts  map[string]bool
	SkipHidden   bool
	MaxFileBytes int64
	Logger       *slog.Logger
}

// Run executes the five-step pipeline lifecycle: open sinks, on_run_start,
// stream items through the executor threading records through hooks and
// writing surviving ones to every open sink, on_run_end, close sinks.
func (e *Engine) Run(ctx context.Context) (*Stats, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stats := newStats()
	runtime := &runtimeView{Engine: e, RunID: uuid.NewString()}
	runCtx := &RunContext{Context: ctx, Stats: stats, Runtime: runtime}

	openSinks := e.openSinks(runCtx, logger)
	runtime.OpenSinks = openSinks
	defer e.closeSinks(openSinks, stats, logger)

	for _, h := range e.Hooks {
		if err := h.OnRunStart(runCtx); err != nil {
			logger.Warn("pipeline: lifecycle hook failed on_run_start", "error", err)
		}
	}

	runErr := e.stream(ctx, runCtx, openSinks, logger)

	for _, h := range e.Hooks {
		if err := h.OnRunEnd(runCtx); err != nil {
			logger.Warn("pipeline: lifecycle hook failed on_run_end", "error", err)
		}
	}

	return stats, runErr
}

func (e *Engine) openSinks(runCtx *RunContext, logger *slog.Logger) []sinks.Sink {
	var repoCtx *sources.RepoContext
	if e.Source != nil {
		repoCtx = e.Source.Context()
	}
	open := make([]sinks.Sink, 0, len(e.Sinks))
	for _, s := range e.Sinks {
		if err := s.Open(repoCtx); err != nil {
			logger.Warn("pipeline: sink failed to open", "error", err)
			runCtx.Stats.SinkErrors++
			continue
		}
		open = append(open, s)
	}
	return open
}

func (e *Engine) closeSinks(open []sinks.Sink, stats *Stats, logger *slog.Logger) {
	for _, s := range open {
		if err := s.Close(); err != nil {
			logger.Warn("pipeline: sink failed to close", "error", err)
			stats.SinkErrors++
		}
	}
}

// stream builds a lazy Producer straight off e.Source.Iter and hands it
// to the executor, rather than collecting items into a slice first: a
// single producer feeds items (and their file bytes) into the executor
// one at a time, so the executor's own bounded window -- not an
// in-memory slice of the whole source -- is what limits how far ahead
// of the sinks an unbounded source can run.
//
// Because the producer closure below now runs concurrently with the
// single result-consumer goroutine (instead of completing before the
// executor is even invoked), both sides mutate runCtx.Stats and so both
// take statsMu.
func (e *Engine) stream(ctx context.Context, runCtx *RunContext, openSinks []sinks.Sink, logger *slog.Logger) error {
	var statsMu sync.Mutex

	produce := func(yield func(Item) bool) error {
		if e.Source == nil {
			return nil
		}
		err := e.Source.Iter(func(fi sources.FileItem) bool {
			rel := fi.Path

			statsMu.Lock()
			if e.SkipHidden && isHiddenPath(rel) {
				runCtx.Stats.SkippedHidden++
				statsMu.Unlock()
				return true
			}
			if shouldSkipExt(rel, e.IncludeExts, e.ExcludeExts) {
				runCtx.Stats.SkippedExt++
				statsMu.Unlock()
				return true
			}
			size := int64(fi.Size)
			if size == 0 && fi.Data != nil {
				size = int64(len(fi.Data))
			}
			if e.MaxFileBytes > 0 && size > e.MaxFileBytes {
				runCtx.Stats.SkippedTooLarge++
				statsMu.Unlock()
				return true
			}

			runCtx.Stats.Files++
			runCtx.Stats.BytesIn += size
			runCtx.Stats.bumpExt(rel)
			statsMu.Unlock()

			return yield(Item{RelPath: rel, Data: fi.Data, Size: size})
		})
		if err != nil {
			statsMu.Lock()
			runCtx.Stats.SourceErrors++
			statsMu.Unlock()
			logger.Warn("pipeline: source iteration failed", "error", err)
			return fmt.Errorf("pipeline: source iteration failed: %w", err)
		}
		return nil
	}

	task := func(taskCtx context.Context, it Item) (ProcessedItem, error) {
		recs, err := extract.IterRecordsFromBytes(it.Data, it.RelPath, e.ExtractOpts)
		if err != nil {
			return ProcessedItem{}, fmt.Errorf("pipeline: extracting %s: %w", it.RelPath, err)
		}
		return ProcessedItem{RelPath: it.RelPath, Recs: recs}, nil
	}

	var writeMu sync.Mutex
	onResult := func(out ProcessedItem) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		e.writeRecords(runCtx, openSinks, out.Recs, logger, &statsMu)
		return nil
	}
	onError := func(it Item, err error) {
		logger.Warn("pipeline: worker failed", "path", it.RelPath, "error", err)
		statsMu.Lock()
		runCtx.Stats.SourceErrors++
		statsMu.Unlock()
	}

	return e.Executor.Run(ctx, produce, e.ExecOptions, task, onResult, onError)
}

func (e *Engine) writeRecords(runCtx *RunContext, openSinks []sinks.Sink, recs []records.Record, logger *slog.Logger, statsMu *sync.Mutex) {
	for _, rec := range recs {
		kept := true
		for _, h := range e.Hooks {
			rec, kept = h.OnRecord(runCtx, rec)
			if !kept {
				break
			}
		}
		if !kept {
			continue
		}

		wrote := false
		for _, s := range openSinks {
			if err := s.Write(rec); err != nil {
				logger.Warn("pipeline: sink failed to write record", "error", err)
				statsMu.Lock()
				runCtx.Stats.SinkErrors++
				statsMu.Unlock()
				continue
			}
			wrote = true
		}
		if wrote {
			statsMu.Lock()
			runCtx.Stats.Records++
			statsMu.Unlock()
		}
	}
}

func isHiddenPath(relPath string) bool {
	start := 0
	for i := 0; i <= len(relPath); i++ {
		if i == len(relPath) || relPath[i] == '/' {
			seg := relPath[start:i]
			if seg != "" && seg != "." && seg != ".." && seg[0] == '.' {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func shouldSkipExt(relPath string, include, exclude map[string]bool) bool {
	ext := extOf(relPath)
	if len(include) > 0 {
		return !include[ext]
	}
	if len(exclude) > 0 {
		return exclude[ext]
	}
	return false
}
