// Package concurrency provides the pipeline's item-processing executors:
// a goroutine-pool ThreadExecutor for I/O-bound work and a subprocess
// ProcessExecutor for CPU-bound or untrusted work that benefits from
// process isolation, both implementing the same bounded-window,
// single-consumer Executor contract.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Kind selects which Executor implementation a plan should build.
type Kind string

const (
	KindThread  Kind = "thread"
	KindProcess Kind = "process"
	KindAuto    Kind = "auto"
)

// Task processes one input item, eagerly materializing every output
// value (required for ProcessExecutor, whose results cross a process
// boundary and so must be serializable).
type Task[I, O any] func(ctx context.Context, in I) (O, error)

// Producer lazily feeds a sequence of items to yield, the same
// push-iterator shape sources.Source.Iter already uses elsewhere in this
// codebase. It stops early if yield returns false, and reports any error
// encountered while producing (e.g. a failed source walk).
type Producer[I any] func(yield func(I) bool) error

// SliceProducer adapts a pre-materialized slice to the Producer shape,
// for callers (tests, small fixed in-memory inputs) that have no lazy
// source to stream from.
func SliceProducer[I any](items []I) Producer[I] {
	return func(yield func(I) bool) error {
		for _, it := range items {
			if !yield(it) {
				return nil
			}
		}
		return nil
	}
}

// Options tunes an Executor's scheduling behavior.
type Options struct {
	// MaxWorkers bounds how many tasks run concurrently.
	MaxWorkers int
	// Window bounds how many submitted-but-not-yet-completed tasks may
	// exist at once, providing producer backpressure; must be >=
	// MaxWorkers. A value <= 0 defaults to MaxWorkers.
	Window int
	// FailFast aborts the run on the first submit or worker error.
	FailFast bool
}

func (o Options) normalized() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 1
	}
	if o.Window < o.MaxWorkers {
		o.Window = o.MaxWorkers
	}
	return o
}

// Executor runs a Task over a stream of inputs with bounded
// concurrency, handing every result (or error) to a single consumer in
// completion order so that downstream sink writes stay serialized.
type Executor[I, O any] interface {
	// Run drains produce lazily, one item at a time, submitting each to
	// task with at most opts.MaxWorkers running concurrently; the
	// producer blocks on its next submission until a worker slot frees
	// up, so an unbounded produce sequence cannot outrun the consumer.
	// onResult and onError are invoked on a single goroutine, never
	// concurrently, preserving completion order as the effective write
	// order. Run blocks until produce is drained and every submitted
	// item has been processed, a FailFast error aborts the run, or ctx
	// is canceled.
	Run(ctx context.Context, produce Producer[I], opts Options, task Task[I, O], onResult func(O) error, onError func(I, error)) error
	// Close releases any resources (worker processes, pools) held by the
	// executor. Safe to call more than once.
	Close() error
}

type result[I, O any] struct {
	item I
	out  O
	err  error
}

// ThreadExecutor runs tasks across a bounded pool of goroutines, the
// same acquire/release semaphore pattern used for concurrent chunk
// processing elsewhere in this codebase, generalized with an explicit
// in-flight window and single-consumer result delivery.
type ThreadExecutor[I, O any] struct {
	logger *slog.Logger
}

// NewThreadExecutor returns a ThreadExecutor.
func NewThreadExecutor[I, O any](logger *slog.Logger) *ThreadExecutor[I, O] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadExecutor[I, O]{logger: logger}
}

// Run pulls items out of produce one at a time and fans them out across
// a goroutine pool sized opts.MaxWorkers: the semaphore acquire below
// blocks the producer's next yield until a worker slot frees up, so
// produce is never drained ahead of what the pool can actually run. A
// buffered results channel of size opts.Window gives the worker pool
// itself a little slack, and results drain on a single consumer
// goroutine so onResult/onError are never called concurrently.
func (e *ThreadExecutor[I, O]) Run(ctx context.Context, produce Producer[I], opts Options, task Task[I, O], onResult func(O) error, onError func(I, error)) error {
	opts = opts.normalized()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, opts.MaxWorkers)
	results := make(chan result[I, O], opts.Window)

	var wg sync.WaitGroup
	var submitErr error
	var submitErrOnce sync.Once
	var produceErr error

	go func() {
		defer close(results)
		produceErr = produce(func(item I) bool {
			select {
			case <-runCtx.Done():
				submitErrOnce.Do(func() { submitErr = runCtx.Err() })
				return false
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(in I) {
				defer wg.Done()
				defer func() { <-sem }()
				out, err := task(runCtx, in)
				select {
				case results <- result[I, O]{item: in, out: out, err: err}:
				case <-runCtx.Done():
				}
			}(item)
			return true
		})
		wg.Wait()
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			onError(res.item, res.err)
			if opts.FailFast {
				firstErr = fmt.Errorf("concurrency: item failed: %w", res.err)
				cancel()
			}
			continue
		}
		if err := onResult(res.out); err != nil {
			onError(res.item, err)
			if opts.FailFast {
				firstErr = err
				cancel()
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if submitErr != nil {
		return submitErr
	}
	if produceErr != nil {
		return produceErr
	}
	return ctx.Err()
}

// Close is a no-op; ThreadExecutor holds no resources beyond a
// goroutine pool that naturally drains once Run returns.
func (e *ThreadExecutor[I, O]) Close() error { return nil }

// ResolveKind applies the pipeline's auto-selection rule: KindAuto
// becomes KindProcess iff the plan carries heavy bytes handlers (PDF
// and EVTX) and at least one heavy-tagged source; otherwise KindThread.
func ResolveKind(requested Kind, hasHeavyBytesHandlers, hasHeavySource bool) Kind {
	if requested != KindAuto {
		return requested
	}
	if hasHeavyBytesHandlers && hasHeavySource {
		return KindProcess
	}
	return KindThread
}

// NewExecutor builds the Executor selected by ResolveKind. ProcessExecutor
// is only returned for KindProcess and requires selfExe/workerArgs; a
// purely KindThread/KindAuto-resolving-to-thread caller can pass "" and
// nil for those.
func NewExecutor[I, O any](kind Kind, hasHeavyBytesHandlers, hasHeavySource bool, maxWorkers int, selfExe string, workerArgs []string, logger *slog.Logger) (Executor[I, O], error) {
	switch ResolveKind(kind, hasHeavyBytesHandlers, hasHeavySource) {
	case KindProcess:
		if selfExe == "" {
			return nil, fmt.Errorf("concurrency: process executor requires a self-exe path")
		}
		return NewProcessExecutor[I, O](selfExe, workerArgs, maxWorkers, logger), nil
	default:
		return NewThreadExecutor[I, O](logger), nil
	}
}
