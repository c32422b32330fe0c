package sources

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalDirSource walks a directory tree, yielding one FileItem per
// regular file that survives hidden-path and extension filtering.
type LocalDirSource struct {
	root          string
	includeExts   map[string]bool
	excludeExts   map[string]bool
	maxBytes      int64
	skipHidden    bool
	ctx           *RepoContext
	logger        *slog.Logger
}

// LocalDirOptions configures a LocalDirSource.
type LocalDirOptions struct {
	Root         string
	IncludeExts  []string
	ExcludeExts  []string
	MaxBytes     int64
	SkipHidden   bool
	Context      *RepoContext
	Logger       *slog.Logger
}

// NewLocalDirSource returns a Source rooted at opts.Root.
func NewLocalDirSource(opts LocalDirOptions) *LocalDirSource {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDirSource{
		root:        opts.Root,
		includeExts: normalizeExts(opts.IncludeExts),
		excludeExts: normalizeExts(opts.ExcludeExts),
		maxBytes:    opts.MaxBytes,
		skipHidden:  opts.SkipHidden,
		ctx:         opts.Context,
		logger:      logger,
	}
}

// Context returns the repo provenance attached at construction.
func (s *LocalDirSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; LocalDirSource holds no scoped resources.
func (s *LocalDirSource) Close() error { return nil }

// Iter walks s.root, applying hidden-path and extension filters before
// reading each surviving file's bytes (capped at s.maxBytes, 0 meaning
// unbounded).
func (s *LocalDirSource) Iter(yield func(FileItem) bool) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("local dir walk error", "path", p, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if s.skipHidden && isHidden(rel) {
			return nil
		}
		if shouldSkipByExt(rel, s.includeExts, s.excludeExts) {
			return nil
		}

		f, openErr := os.Open(p)
		if openErr != nil {
			s.logger.Warn("local dir open error", "path", rel, "error", openErr)
			return nil
		}
		data, truncated, readErr := readAllCapped(f, s.maxBytes)
		f.Close()
		if readErr != nil {
			s.logger.Warn("local dir read error", "path", rel, "error", readErr)
			return nil
		}
		if truncated {
			s.logger.Warn("local dir file truncated at byte cap", "path", rel, "cap", s.maxBytes)
		}

		if !yield(FileItem{Path: rel, Data: data, Size: len(data)}) {
			return fs.SkipAll
		}
		return nil
	})
}
