package pipeline

import (
	"log/slog"

	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sinks"
)

// HeaderHook emits a single run_header record to every sink before any
// data records are written, carrying whatever metadata the caller wants
// recorded at the top of the output.
type HeaderHook struct {
	Meta map[string]any

	written bool
}

func (h *HeaderHook) OnRunStart(ctx *RunContext) error {
	meta := map[string]any{"kind": "run_header"}
	for k, v := range h.Meta {
		meta[k] = v
	}

	rt, ok := ctx.Runtime.(*runtimeView)
	if !ok || rt == nil {
		return nil
	}
	meta["extra"] = mergeRunID(meta["extra"], rt.RunID)

	header := records.Record{Text: "", Meta: meta}
	var wrote bool
	for _, s := range rt.OpenSinks {
		if err := s.Write(header); err == nil {
			wrote = true
		}
	}
	h.written = wrote
	return nil
}

func (h *HeaderHook) OnRecord(_ *RunContext, rec records.Record) (records.Record, bool) {
	return rec, true
}

func (h *HeaderHook) OnRunEnd(_ *RunContext) error { return nil }

// RunSummaryHook appends a run_summary footer record to every sink that
// supports finalize, falling back to appending it directly to the
// primary JSONL path so the output always carries exactly one footer.
type RunSummaryHook struct {
	Enabled          bool
	PrimaryJSONLPath string
	QCSummary        map[string]any
	Metadata         map[string]any
	Logger           *slog.Logger

	OtherHooks []LifecycleHook
}

func (h *RunSummaryHook) OnRunStart(_ *RunContext) error { return nil }

func (h *RunSummaryHook) OnRecord(_ *RunContext, rec records.Record) (records.Record, bool) {
	return rec, true
}

// OnRunEnd builds RunArtifacts from the run's stats and dispatches the
// footer record to every finalize-capable sink, falling back to a direct
// JSONL append when none of them is JSONL-typed.
func (h *RunSummaryHook) OnRunEnd(ctx *RunContext) error {
	if !h.Enabled {
		return nil
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	artifacts := h.buildArtifacts(ctx)

	rt, _ := ctx.Runtime.(*runtimeView)
	var openSinks []sinks.Sink
	if rt != nil {
		openSinks = rt.OpenSinks
	}
	dispatchFinalizers(openSinks, artifacts.SummaryRecord, h.PrimaryJSONLPath, logger)

	for _, other := range h.OtherHooks {
		if ah, ok := other.(ArtifactsHook); ok {
			if err := ah.OnArtifacts(artifacts, ctx); err != nil {
				logger.Warn("pipeline: lifecycle hook failed on_artifacts", "error", err)
			}
		}
	}
	return nil
}

func (h *RunSummaryHook) buildArtifacts(ctx *RunContext) RunArtifacts {
	view := SummaryView{
		Stats:            *ctx.Stats,
		QCSummary:        h.QCSummary,
		PrimaryJSONLPath: h.PrimaryJSONLPath,
	}
	meta := map[string]any{
		"kind":  "run_summary",
		"stats": ctx.Stats,
	}
	if h.QCSummary != nil {
		meta["qc"] = h.QCSummary
	}
	for k, v := range h.Metadata {
		meta[k] = v
	}
	if rt, ok := ctx.Runtime.(*runtimeView); ok && rt != nil {
		meta["extra"] = mergeRunID(meta["extra"], rt.RunID)
	}
	return RunArtifacts{
		SummaryRecord: records.Record{Text: "", Meta: meta},
		SummaryView:   view,
	}
}

// mergeRunID folds run_id into whatever "extra" value a caller's metadata
// already carries, tolerating both nil and a pre-existing map[string]any.
func mergeRunID(existing any, runID string) map[string]any {
	extra, ok := existing.(map[string]any)
	if !ok {
		extra = map[string]any{}
	}
	extra["run_id"] = runID
	return extra
}

func dispatchFinalizers(openSinks []sinks.Sink, summary records.Record, primaryJSONL string, logger *slog.Logger) {
	wroteJSONL := false
	for _, s := range openSinks {
		finalizer, ok := s.(interface{ Finalize(records.Record) error })
		if !ok {
			continue
		}
		if err := finalizer.Finalize(summary); err != nil {
			logger.Warn("pipeline: sink failed to finalize", "error", err)
			continue
		}
		if _, isJSONL := s.(*sinks.JSONLSink); isJSONL {
			wroteJSONL = true
		}
		if _, isGzipJSONL := s.(*sinks.GzipJSONLSink); isGzipJSONL {
			wroteJSONL = true
		}
	}
	if primaryJSONL != "" && !wroteJSONL {
		if err := sinks.AppendRunSummary(primaryJSONL, summary.Meta); err != nil {
			logger.Warn("pipeline: fallback run summary append failed", "path", primaryJSONL, "error", err)
		}
	}
}
