// Package plan resolves a declarative config.RepocapsuleConfig into a
// fully wired PipelinePlan: concrete sources, sinks, an HTTP client, a
// bytes-handler registry, and an executor ready for pipeline.Engine to
// run. Build is the only entry point; everything else in this package
// supports it.
package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sievio/repocapsule/byteshandler"
	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/concurrency"
	"github.com/sievio/repocapsule/config"
	"github.com/sievio/repocapsule/decode"
	"github.com/sievio/repocapsule/extract"
	"github.com/sievio/repocapsule/fingerprint"
	"github.com/sievio/repocapsule/httpsafe"
	"github.com/sievio/repocapsule/pipeline"
	"github.com/sievio/repocapsule/qc"
	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sinks"
	"github.com/sievio/repocapsule/sources"
)

// ErrUnknownSourceKind is returned (wrapped in a warning, not aborted)
// when a SourceSpec names a kind with no registered factory.
var ErrUnknownSourceKind = errors.New("plan: unknown source kind")

// ErrUnknownSinkKind is returned (wrapped in a warning, not aborted)
// when a SinkSpec names a kind with no registered factory.
var ErrUnknownSinkKind = errors.New("plan: unknown sink kind")

// ErrSinkPathCollision is returned by Build when the resolved primary
// JSONL path and a prompt_text sink's resolved path are the same
// filesystem target.
var ErrSinkPathCollision = errors.New("plan: sink output paths collide")

// SourceFactory builds a Source from its kind-specific options.
type SourceFactory func(opts map[string]any, ctx *sources.RepoContext, client *httpsafe.Client, logger *slog.Logger) (sources.Source, error)

// SinkFactory builds a Sink from its kind-specific options. sinksDir is
// the resolved output directory, threaded in so relative sink paths
// resolve the same way regardless of the caller's working directory.
type SinkFactory func(opts map[string]any, sinksDir string) (sinks.Sink, error)

// SourceRegistry resolves source kind strings to factories.
type SourceRegistry struct {
	factories map[string]SourceFactory
}

// NewSourceRegistry returns a registry pre-populated with the built-in
// source kinds: local_dir, zip, web_pdf_list, web_page_pdf, csv, jsonl,
// sqlite.
func NewSourceRegistry() *SourceRegistry {
	r := &SourceRegistry{factories: map[string]SourceFactory{}}
	r.Register("local_dir", buildLocalDirSource)
	r.Register("zip", buildZipSource)
	r.Register("web_pdf_list", buildWebPdfListSource)
	r.Register("web_page_pdf", buildWebPagePdfSource)
	r.Register("csv", buildCSVSource)
	r.Register("jsonl", buildJSONLSource)
	r.Register("sqlite", buildSQLiteSource)
	return r
}

// Register adds or replaces the factory for kind.
func (r *SourceRegistry) Register(kind string, f SourceFactory) {
	r.factories[kind] = f
}

// Build resolves every configured source spec, logging and skipping (not
// aborting) specs whose kind is unregistered or whose factory fails.
func (r *SourceRegistry) Build(specs []config.SourceSpec, defaults map[string]map[string]any, ctx *sources.RepoContext, client *httpsafe.Client, logger *slog.Logger) []sources.Source {
	var built []sources.Source
	for _, spec := range specs {
		f, ok := r.factories[spec.Kind]
		if !ok {
			logger.Warn("plan: source factory unavailable", "error", fmt.Errorf("%w: %q", ErrUnknownSourceKind, spec.Kind))
			continue
		}
		opts := mergeOptions(defaults[spec.Kind], spec.Options)
		src, err := f(opts, ctx, client, logger)
		if err != nil {
			logger.Warn("plan: source factory failed", "kind", spec.Kind, "error", err)
			continue
		}
		built = append(built, src)
	}
	return built
}

// SinkRegistry resolves sink kind strings to factories.
type SinkRegistry struct {
	factories map[string]SinkFactory
}

// NewSinkRegistry returns a registry pre-populated with the built-in
// sink kinds: jsonl, jsonl_gz, prompt_text, parquet_dataset.
func NewSinkRegistry() *SinkRegistry {
	r := &SinkRegistry{factories: map[string]SinkFactory{}}
	r.Register("jsonl", buildJSONLSink)
	r.Register("jsonl_gz", buildGzipJSONLSink)
	r.Register("prompt_text", buildPromptTextSink)
	r.Register("parquet_dataset", buildParquetDatasetSink)
	return r
}

// Register adds or replaces the factory for kind.
func (r *SinkRegistry) Register(kind string, f SinkFactory) {
	r.factories[kind] = f
}

// Build resolves every configured sink spec against sinksDir, returning
// the built sinks, the resolved path of the first jsonl/jsonl_gz sink
// (used to derive output_dir/primary JSONL name when the config left
// them unset), and the resolved path of every prompt_text sink (so
// Builder.Build can check those against the primary JSONL path for a
// filesystem collision).
func (r *SinkRegistry) Build(specs []config.SinkSpec, sinksDir string, logger *slog.Logger) ([]sinks.Sink, string, []string) {
	var built []sinks.Sink
	var primaryJSONL string
	var promptTextPaths []string
	for _, spec := range specs {
		f, ok := r.factories[spec.Kind]
		if !ok {
			logger.Warn("plan: sink factory unavailable", "error", fmt.Errorf("%w: %q", ErrUnknownSinkKind, spec.Kind))
			continue
		}
		s, err := f(spec.Options, sinksDir)
		if err != nil {
			logger.Warn("plan: sink factory failed", "kind", spec.Kind, "error", err)
			continue
		}
		built = append(built, s)
		path, hasPath := stringOpt(spec.Options, "path")
		if !hasPath {
			continue
		}
		if (spec.Kind == "jsonl" || spec.Kind == "jsonl_gz") && primaryJSONL == "" {
			primaryJSONL = resolvePath(sinksDir, path)
		}
		if spec.Kind == "prompt_text" {
			promptTextPaths = append(promptTextPaths, resolvePath(sinksDir, path))
		}
	}
	return built, primaryJSONL, promptTextPaths
}

// PipelinePlan is the immutable, fully wired result of Build: a ready
// pipeline.Engine plus the derived output paths a caller may want to
// report back to the user.
type PipelinePlan struct {
	Engine           *pipeline.Engine
	PrimaryJSONLPath string
	OutputDir        string
}

// Builder resolves a config.RepocapsuleConfig into a PipelinePlan.
type Builder struct {
	Sources       *SourceRegistry
	Sinks         *SinkRegistry
	BytesHandlers *byteshandler.Registry
	Logger        *slog.Logger
}

// NewBuilder returns a Builder wired with the default registries.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		Sources:       NewSourceRegistry(),
		Sinks:         NewSinkRegistry(),
		BytesHandlers: byteshandler.NewRegistry(),
		Logger:        logger,
	}
}

// Build runs the ten-step plan-building contract: deep-copy the config,
// apply logging, resolve sources/sinks/bytes-handlers/QC scorer, derive
// output paths, attach the run header, prepare QC hooks, resolve
// executor settings, and return the resulting PipelinePlan.
func (b *Builder) Build(cfg config.RepocapsuleConfig) (*PipelinePlan, error) {
	cfg, err := cfg.Clone()
	if err != nil {
		return nil, fmt.Errorf("plan: cloning config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("plan: invalid config: %w", err)
	}

	logger := b.applyLogging(cfg.Logging)

	repoCtx := toRepoContext(cfg.Sinks.Context)
	httpClient := b.buildHTTPClient(cfg.HTTP)

	builtSources := b.Sources.Build(cfg.Sources.Specs, cfg.Sources.Defaults, repoCtx, httpClient, logger)

	outputDir := cfg.Sinks.OutputDir
	builtSinks, primaryFromSinks, promptTextPaths := b.Sinks.Build(cfg.Sinks.Specs, outputDir, logger)

	primaryJSONL := cfg.Sinks.PrimaryJSONLName
	if primaryJSONL == "" {
		primaryJSONL = primaryFromSinks
	}
	if outputDir == "" && primaryJSONL != "" {
		outputDir = filepath.Dir(primaryJSONL)
	}

	if primaryJSONL != "" {
		for _, p := range promptTextPaths {
			if samePath(primaryJSONL, p) {
				return nil, fmt.Errorf("plan: primary jsonl path %q collides with prompt_text sink path %q: %w", primaryJSONL, p, ErrSinkPathCollision)
			}
		}
	}

	hooks := []pipeline.LifecycleHook{&pipeline.HeaderHook{Meta: cfg.Metadata}}

	qcHook, qcSummaryFn, err := b.prepareQC(cfg.QC, primaryJSONL, logger)
	if err != nil {
		return nil, err
	}
	if qcHook != nil {
		hooks = append(hooks, qcHook)
	}

	summaryHook := &pipeline.RunSummaryHook{
		Enabled:          true,
		PrimaryJSONLPath: primaryJSONL,
		Metadata:         cfg.Metadata,
		Logger:           logger,
		OtherHooks:       hooks,
	}
	if qcSummaryFn != nil {
		summaryHook.QCSummary = qcSummaryFn()
	}
	hooks = append(hooks, summaryHook)

	execOpts := concurrency.Options{
		MaxWorkers: cfg.Pipeline.MaxWorkers,
		Window:     cfg.Pipeline.SubmitWindow,
		FailFast:   cfg.Pipeline.FailFast,
	}

	hasHeavySource := false
	for _, s := range builtSources {
		if tagger, ok := s.(interface{ Heavy() bool }); ok && tagger.Heavy() {
			hasHeavySource = true
		}
	}
	kind := concurrency.ResolveKind(concurrency.Kind(cfg.Pipeline.ExecutorKind), b.BytesHandlers.HasHeavyHandlers(), hasHeavySource)

	var exec concurrency.Executor[pipeline.Item, pipeline.ProcessedItem]
	switch kind {
	case concurrency.KindProcess:
		selfExe, execErr := os.Executable()
		if execErr != nil {
			logger.Warn("plan: resolving self executable for process executor, falling back to thread executor", "error", execErr)
			exec = concurrency.NewThreadExecutor[pipeline.Item, pipeline.ProcessedItem](logger)
		} else {
			exec = concurrency.NewProcessExecutor[pipeline.Item, pipeline.ProcessedItem](selfExe, []string{"-repocapsule-worker"}, cfg.Pipeline.MaxWorkers, logger)
		}
	default:
		exec = concurrency.NewThreadExecutor[pipeline.Item, pipeline.ProcessedItem](logger)
	}

	var source sources.Source
	switch len(builtSources) {
	case 0:
		source = nil
	case 1:
		source = builtSources[0]
	default:
		source = &multiSource{sources: builtSources}
	}

	engine := &pipeline.Engine{
		Source:      source,
		Sinks:       builtSinks,
		Hooks:       hooks,
		Executor:    exec,
		ExecOptions: execOpts,
		ExtractOpts: extract.Options{
			Handlers:   b.BytesHandlers,
			DecodeOpts: decode.DefaultOptions(),
			Policy:     chunker.DefaultPolicy(),
			RepoCtx:    repoCtx,
			Logger:     logger,
		},
		SkipHidden: true,
		Logger:     logger,
	}

	return &PipelinePlan{
		Engine:           engine,
		PrimaryJSONLPath: primaryJSONL,
		OutputDir:        outputDir,
	}, nil
}

// multiSource chains several sources.Source values into one, in order,
// for configs that declare more than one source spec.
type multiSource struct {
	sources []sources.Source
}

func (m *multiSource) Context() *sources.RepoContext {
	if len(m.sources) == 0 {
		return nil
	}
	return m.sources[0].Context()
}

func (m *multiSource) Close() error {
	var firstErr error
	for _, s := range m.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiSource) Iter(yield func(sources.FileItem) bool) error {
	for _, s := range m.sources {
		stop := false
		err := s.Iter(func(fi sources.FileItem) bool {
			if !yield(fi) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (b *Builder) applyLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	b.Logger = logger
	return logger
}

func (b *Builder) buildHTTPClient(cfg config.HTTPConfig) *httpsafe.Client {
	httpCfg := httpsafe.DefaultConfig()
	if cfg.TimeoutSeconds > 0 {
		httpCfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.Retries > 0 {
		httpCfg.Retries = cfg.Retries
	}
	if len(cfg.AllowedRedirectSuffixes) > 0 {
		httpCfg.AllowedRedirectSuffixes = cfg.AllowedRedirectSuffixes
	}
	return httpsafe.New(httpCfg)
}

// prepareQC translates cfg.Mode into the matching lifecycle hook: none
// for off/post-with-no-scorer, an inline hook (enforcing gates) for
// inline mode, and a non-enforcing annotate-only hook for advisory
// mode. It returns a QC-summary accessor the caller reads once the run
// has finished scoring every record.
func (b *Builder) prepareQC(cfg config.QCConfig, primaryJSONL string, logger *slog.Logger) (pipeline.LifecycleHook, func() map[string]any, error) {
	if !cfg.Enabled || cfg.Mode == config.QCOff {
		return nil, nil, nil
	}
	if (cfg.Mode == config.QCInline || cfg.Mode == config.QCAdvisory) && cfg.ScorerID == "" {
		return nil, nil, fmt.Errorf("plan: qc mode %q requires a scorer_id: %w", cfg.Mode, config.ErrScorerRequired)
	}

	scorer, err := buildScorer(cfg.ScorerID, cfg.ScorerOptions)
	if err != nil {
		if cfg.Mode == config.QCPost {
			logger.Warn("plan: qc scorer unavailable, disabling post-mode qc", "error", err)
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("plan: building qc scorer %q: %w", cfg.ScorerID, err)
	}

	enforce := cfg.Mode == config.QCInline
	controller := qc.NewInlineQCController(qc.Config{
		Mode:         qc.Mode(cfg.Mode),
		MinScore:     cfg.MinScore,
		DropNearDups: cfg.DropNearDups,
		FailOnError:  cfg.FailOnError,
		WriteCSV:     cfg.WriteCSV,
		CSVSuffix:    cfg.CSVSuffix,
	}, scorer, logger, enforce)

	hook := &qcHook{controller: controller}
	summaryFn := func() map[string]any { return controller.Tracker().AsMap() }
	return hook, summaryFn, nil
}

// qcHook adapts qc.InlineQCController to pipeline.LifecycleHook.
type qcHook struct {
	controller *qc.InlineQCController
}

func (h *qcHook) OnRunStart(_ *pipeline.RunContext) error {
	h.controller.Reset()
	return nil
}

func (h *qcHook) OnRecord(_ *pipeline.RunContext, rec records.Record) (records.Record, bool) {
	out, err := h.controller.ProcessRecord(rec)
	if err != nil || out == nil {
		return rec, false
	}
	return *out, true
}

func (h *qcHook) OnRunEnd(_ *pipeline.RunContext) error { return nil }

// buildScorer resolves scorerID to a concrete qc.Scorer. "simple" is the
// only scorer this build ships; an lsh_path option opens a persistent
// near-duplicate store, otherwise near-dup checks are disabled.
func buildScorer(scorerID string, opts map[string]any) (qc.Scorer, error) {
	switch scorerID {
	case "simple", "":
		k := intOpt(opts, "shingle_k", 5)
		nPerm := intOpt(opts, "n_perm", 64)
		var lsh *fingerprint.LSHStore
		if path, ok := stringOpt(opts, "lsh_path"); ok && path != "" {
			var err error
			lsh, err = fingerprint.OpenLSHStore(path, fingerprint.LSHParams{NPerm: nPerm, Bands: intOpt(opts, "bands", 16)})
			if err != nil {
				return nil, fmt.Errorf("plan: opening lsh store %s: %w", path, err)
			}
		}
		return qc.NewSimpleScorer(lsh, k, nPerm), nil
	default:
		return nil, fmt.Errorf("plan: unknown qc scorer id %q", scorerID)
	}
}

func toRepoContext(c *config.RepoContextConfig) *sources.RepoContext {
	if c == nil {
		return nil
	}
	return &sources.RepoContext{
		RepoFullName: c.RepoFullName,
		RepoURL:      c.RepoURL,
		LicenseID:    c.LicenseID,
		CommitSHA:    c.CommitSHA,
		Extra:        c.Extra,
	}
}

func mergeOptions(defaults, override map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func stringOpt(opts map[string]any, key string) (string, bool) {
	v, ok := opts[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intOpt(opts map[string]any, key string, fallback int) int {
	v, ok := opts[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func boolOpt(opts map[string]any, key string, fallback bool) bool {
	v, ok := opts[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

func resolvePath(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// samePath reports whether a and b resolve to the same filesystem
// target, comparing absolute forms where possible and falling back to
// Clean when the working directory can't be resolved.
func samePath(a, b string) bool {
	aAbs, errA := filepath.Abs(a)
	bAbs, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aAbs == bAbs
}
