package sources

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"strings"
)

// ZipSource iterates the regular-file entries of an in-memory ZIP
// archive, such as a GitHub codeload tarball-as-zip download.
type ZipSource struct {
	data          []byte
	includeExts   map[string]bool
	excludeExts   map[string]bool
	maxBytes      int64
	skipHidden    bool
	stripTopLevel bool
	ctx           *RepoContext
	logger        *slog.Logger
}

// ZipOptions configures a ZipSource.
type ZipOptions struct {
	Data          []byte
	IncludeExts   []string
	ExcludeExts   []string
	MaxBytes      int64
	SkipHidden    bool
	StripTopLevel bool
	Context       *RepoContext
	Logger        *slog.Logger
}

// NewZipSource returns a Source reading entries out of opts.Data.
// StripTopLevel drops the single common leading path segment GitHub
// codeload archives wrap every entry in (e.g. "repo-main/").
func NewZipSource(opts ZipOptions) *ZipSource {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ZipSource{
		data:          opts.Data,
		includeExts:   normalizeExts(opts.IncludeExts),
		excludeExts:   normalizeExts(opts.ExcludeExts),
		maxBytes:      opts.MaxBytes,
		skipHidden:    opts.SkipHidden,
		stripTopLevel: opts.StripTopLevel,
		ctx:           opts.Context,
		logger:        logger,
	}
}

// Context returns the repo provenance attached at construction.
func (s *ZipSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; ZipSource holds no scoped resources.
func (s *ZipSource) Close() error { return nil }

// Iter walks the archive's central directory in order, applying the
// same hidden-path/extension filters as LocalDirSource.
func (s *ZipSource) Iter(yield func(FileItem) bool) error {
	r, err := zip.NewReader(bytes.NewReader(s.data), int64(len(s.data)))
	if err != nil {
		return fmt.Errorf("sources: opening zip archive: %w", err)
	}

	prefix := ""
	if s.stripTopLevel {
		prefix = commonTopLevelPrefix(r.File)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(f.Name, prefix)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		if s.skipHidden && isHidden(rel) {
			continue
		}
		if shouldSkipByExt(rel, s.includeExts, s.excludeExts) {
			continue
		}

		rc, openErr := f.Open()
		if openErr != nil {
			s.logger.Warn("zip entry open error", "path", rel, "error", openErr)
			continue
		}
		data, truncated, readErr := readAllCapped(rc, s.maxBytes)
		rc.Close()
		if readErr != nil {
			s.logger.Warn("zip entry read error", "path", rel, "error", readErr)
			continue
		}
		if truncated {
			s.logger.Warn("zip entry truncated at byte cap", "path", rel, "cap", s.maxBytes)
		}

		if !yield(FileItem{Path: rel, Data: data, Size: len(data)}) {
			return nil
		}
	}
	return nil
}

// commonTopLevelPrefix returns the shared first path segment (with a
// trailing slash) across every file in files, or "" if entries don't
// share one.
func commonTopLevelPrefix(files []*zip.File) string {
	if len(files) == 0 {
		return ""
	}
	var prefix string
	for i, f := range files {
		idx := strings.IndexByte(f.Name, '/')
		if idx < 0 {
			return ""
		}
		seg := f.Name[:idx+1]
		if i == 0 {
			prefix = seg
			continue
		}
		if seg != prefix {
			return ""
		}
	}
	return prefix
}
