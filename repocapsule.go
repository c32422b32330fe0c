// Package repocapsule is the library facade: it resolves a declarative
// config.RepocapsuleConfig into a plan.PipelinePlan and runs it, handing
// back the run's pipeline.Stats. Build and Run are the only entry points
// most callers need; plan and pipeline stay exported for callers who want
// a custom Builder, extra lifecycle hooks, or direct Engine access.
package repocapsule

import (
	"context"
	"io"
	"log/slog"

	"github.com/sievio/repocapsule/concurrency"
	"github.com/sievio/repocapsule/config"
	"github.com/sievio/repocapsule/extract"
	"github.com/sievio/repocapsule/pipeline"
	"github.com/sievio/repocapsule/plan"
)

// Build resolves cfg into a ready-to-run plan without executing it, for
// callers that want to inspect OutputDir/PrimaryJSONLPath, or attach
// additional lifecycle hooks to the engine before calling Run.
func Build(cfg config.RepocapsuleConfig) (*plan.PipelinePlan, error) {
	return plan.NewBuilder(nil).Build(cfg)
}

// BuildWithLogger is Build with an explicit logger (nil uses
// slog.Default()).
func BuildWithLogger(cfg config.RepocapsuleConfig, logger *slog.Logger) (*plan.PipelinePlan, error) {
	return plan.NewBuilder(logger).Build(cfg)
}

// Run builds a plan from cfg and executes it end to end, returning the
// run's Stats.
func Run(ctx context.Context, cfg config.RepocapsuleConfig) (*pipeline.Stats, error) {
	p, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	return p.Engine.Run(ctx)
}

// RunWithLogger is Run with an explicit logger (nil uses slog.Default()).
func RunWithLogger(ctx context.Context, cfg config.RepocapsuleConfig, logger *slog.Logger) (*pipeline.Stats, error) {
	p, err := BuildWithLogger(cfg, logger)
	if err != nil {
		return nil, err
	}
	return p.Engine.Run(ctx)
}

// WorkerMain is the subprocess side of a concurrency.ProcessExecutor
// re-exec. A binary that passes "-repocapsule-worker" as a
// ProcessExecutor workerArg should, on seeing that flag, call this
// instead of its normal startup: it reads length-prefixed Item frames
// from r and writes back ProcessedItem frames on w until r closes,
// running the same extraction opts.Handlers/DecodeOpts/Policy the parent
// process's plan.Builder resolved.
func WorkerMain(r io.Reader, w io.Writer, opts extract.Options) error {
	return concurrency.RunWorkerLoop(r, w, func(it pipeline.Item) (pipeline.ProcessedItem, error) {
		recs, err := extract.IterRecordsFromBytes(it.Data, it.RelPath, opts)
		if err != nil {
			return pipeline.ProcessedItem{}, err
		}
		return pipeline.ProcessedItem{RelPath: it.RelPath, Recs: recs}, nil
	})
}
