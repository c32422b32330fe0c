// Package config declares the declarative, serializable shape of a
// repocapsule run: RepocapsuleConfig and its nested sections. A
// RepocapsuleConfig carries no runtime objects (sources, sinks, HTTP
// clients, scorers) -- those are resolved by the plan package from the
// specs declared here.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrScorerRequired is returned when QC mode is inline or advisory but
// no quality scorer could be resolved.
var ErrScorerRequired = errors.New("config: quality scorer required for this QC mode")

// SourceSpec names one configured source and its kind-specific options.
type SourceSpec struct {
	Kind    string         `json:"kind"`
	Options map[string]any `json:"options,omitempty"`
}

// SinkSpec names one configured sink and its kind-specific options.
type SinkSpec struct {
	Kind    string         `json:"kind"`
	Options map[string]any `json:"options,omitempty"`
}

// SourcesConfig groups every source spec plus per-kind default options
// applied before a spec's own options.
type SourcesConfig struct {
	Specs    []SourceSpec              `json:"specs"`
	Defaults map[string]map[string]any `json:"defaults,omitempty"`
}

// RepoContextConfig is the serializable form of sources.RepoContext.
type RepoContextConfig struct {
	RepoFullName string         `json:"repo_full_name,omitempty"`
	RepoURL      string         `json:"repo_url,omitempty"`
	LicenseID    string         `json:"license_id,omitempty"`
	CommitSHA    string         `json:"commit_sha,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// SinksConfig groups every sink spec plus shared output location
// defaults.
type SinksConfig struct {
	Specs            []SinkSpec         `json:"specs"`
	Context          *RepoContextConfig `json:"context,omitempty"`
	OutputDir        string             `json:"output_dir,omitempty"`
	PrimaryJSONLName string             `json:"primary_jsonl_name,omitempty"`
}

// ExecutorKind mirrors concurrency.Kind in a JSON-friendly string form.
type ExecutorKind string

const (
	ExecutorAuto    ExecutorKind = "auto"
	ExecutorThread  ExecutorKind = "thread"
	ExecutorProcess ExecutorKind = "process"
)

// PipelineConfig tunes the run's executor and failure policy.
type PipelineConfig struct {
	MaxWorkers   int          `json:"max_workers"`
	SubmitWindow int          `json:"submit_window"`
	ExecutorKind ExecutorKind `json:"executor_kind"`
	FailFast     bool         `json:"fail_fast"`
}

// HTTPConfig tunes the httpsafe client built for web sources.
type HTTPConfig struct {
	TimeoutSeconds          int      `json:"timeout_seconds"`
	Retries                 int      `json:"retries"`
	AllowedRedirectSuffixes []string `json:"allowed_redirect_suffixes,omitempty"`
}

// QCMode mirrors qc.Mode in a JSON-friendly string form.
type QCMode string

const (
	QCOff      QCMode = "off"
	QCPost     QCMode = "post"
	QCInline   QCMode = "inline"
	QCAdvisory QCMode = "advisory"
)

// QCConfig tunes quality-control scoring and gating.
type QCConfig struct {
	Enabled       bool           `json:"enabled"`
	Mode          QCMode         `json:"mode"`
	MinScore      *float64       `json:"min_score,omitempty"`
	DropNearDups  bool           `json:"drop_near_dups"`
	ScorerID      string         `json:"scorer_id,omitempty"`
	ScorerOptions map[string]any `json:"scorer_options,omitempty"`
	WriteCSV      bool           `json:"write_csv"`
	CSVSuffix     string         `json:"csv_suffix,omitempty"`
	FailOnError   bool           `json:"fail_on_error"`
	ParallelInline bool          `json:"parallel_inline"`
}

// LoggingConfig tunes the run's structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// RepocapsuleConfig is the full declarative run spec. Every field is
// JSON-serializable and free of runtime objects; plan.Build resolves it
// into a PipelinePlan.
type RepocapsuleConfig struct {
	Sources  SourcesConfig     `json:"sources"`
	Sinks    SinksConfig       `json:"sinks"`
	Pipeline PipelineConfig    `json:"pipeline"`
	HTTP     HTTPConfig        `json:"http"`
	QC       QCConfig          `json:"qc"`
	Metadata map[string]any    `json:"metadata,omitempty"`
	Logging  LoggingConfig     `json:"logging"`
}

// Default returns a RepocapsuleConfig with the same baseline defaults
// the reference implementation ships: 4 workers, a window double that,
// auto executor selection, QC disabled, info-level text logging.
func Default() RepocapsuleConfig {
	return RepocapsuleConfig{
		Pipeline: PipelineConfig{
			MaxWorkers:   4,
			SubmitWindow: 8,
			ExecutorKind: ExecutorAuto,
			FailFast:     false,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 30,
			Retries:        2,
		},
		QC: QCConfig{
			Enabled: false,
			Mode:    QCOff,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Clone returns a deep copy of cfg via a JSON marshal/unmarshal round
// trip, matching the plan builder's "deep-copy unless mutate=true"
// contract without hand-rolling a copier for every nested struct.
func (cfg RepocapsuleConfig) Clone() (RepocapsuleConfig, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return RepocapsuleConfig{}, fmt.Errorf("config: marshaling for clone: %w", err)
	}
	var out RepocapsuleConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return RepocapsuleConfig{}, fmt.Errorf("config: unmarshaling clone: %w", err)
	}
	return out, nil
}

// Validate rejects configurations the plan builder cannot build: an
// inline/advisory QC mode without a scorer, and a sink output path
// collision between the primary JSONL and any sink-declared prompt
// path (checked once those paths are resolved by the plan, not here --
// this only validates what's knowable from the spec alone).
func (cfg RepocapsuleConfig) Validate() error {
	if (cfg.QC.Mode == QCInline || cfg.QC.Mode == QCAdvisory) && cfg.QC.Enabled && cfg.QC.ScorerID == "" {
		return fmt.Errorf("config: qc mode %q requires a scorer_id: %w", cfg.QC.Mode, ErrScorerRequired)
	}
	if cfg.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("config: pipeline.max_workers must be > 0")
	}
	if cfg.Pipeline.SubmitWindow < cfg.Pipeline.MaxWorkers {
		return fmt.Errorf("config: pipeline.submit_window must be >= max_workers")
	}
	return nil
}
