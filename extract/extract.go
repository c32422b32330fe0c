// Package extract wires together bytes-handler dispatch, text
// decoding, chunking, and record assembly into the single
// IterRecordsFromBytes entry point the pipeline engine calls for every
// FileItem.
package extract

import (
	"fmt"
	"log/slog"

	"github.com/sievio/repocapsule/byteshandler"
	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/decode"
	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sources"
)

// UserExtractor lets callers short-circuit the default decode/chunk/
// build pipeline for a file. The first extractor whose output is
// non-empty wins; a nil result or error falls through to the next
// extractor (or, if none match, the default pipeline).
type UserExtractor func(text, relPath string, ctx *sources.RepoContext) ([]records.Record, error)

// Options configures one IterRecordsFromBytes call.
type Options struct {
	Handlers   *byteshandler.Registry
	DecodeOpts decode.Options
	Policy     chunker.Policy
	LangConfig *records.LanguageConfig
	RepoCtx    *sources.RepoContext
	Extractors []UserExtractor
	Logger     *slog.Logger
}

// IterRecordsFromBytes runs the C7 extraction pipeline for one file's
// raw bytes: bytes-handler dispatch first, then (on no match) decode,
// chunk, and build one record per chunk; user extractors, if any, get
// first refusal once decoded text is available.
func IterRecordsFromBytes(data []byte, relPath string, opts Options) ([]records.Record, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("extract: %s: %w", relPath, err)
	}

	if opts.Handlers != nil {
		recs, ok, err := opts.Handlers.Dispatch(data, relPath, extraMeta(opts.RepoCtx))
		if err != nil {
			logger.Debug("extract: bytes handler failed, falling through to text path", "path", relPath, "error", err)
		} else if ok {
			return recs, nil
		}
	}

	decoded := decode.DecodeBytes(data, opts.DecodeOpts)

	for _, ext := range opts.Extractors {
		recs, err := ext(decoded.Text, relPath, opts.RepoCtx)
		if err != nil {
			logger.Debug("extract: user extractor failed, trying next", "path", relPath, "error", err)
			continue
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}

	fragments := chunker.Chunk(decoded.Text, opts.Policy)
	if len(fragments) == 0 {
		return nil, nil
	}

	out := make([]records.Record, 0, len(fragments))
	for i, frag := range fragments {
		rec := records.BuildRecord(records.BuildRecordInput{
			Text:           frag.Text,
			RelPath:        relPath,
			RepoFullName:   repoFullName(opts.RepoCtx),
			RepoURL:        repoURL(opts.RepoCtx),
			LicenseID:      licenseID(opts.RepoCtx),
			Encoding:       decoded.Encoding,
			HadReplacement: decoded.HadReplacement,
			ChunkID:        i + 1,
			NChunks:        len(fragments),
			LangConfig:     opts.LangConfig,
		})
		out = append(out, rec)
	}
	return out, nil
}

func extraMeta(ctx *sources.RepoContext) map[string]any {
	if ctx == nil {
		return nil
	}
	return ctx.Extra
}

func repoFullName(ctx *sources.RepoContext) string {
	if ctx == nil {
		return ""
	}
	return ctx.RepoFullName
}

func repoURL(ctx *sources.RepoContext) string {
	if ctx == nil {
		return ""
	}
	return ctx.RepoURL
}

func licenseID(ctx *sources.RepoContext) string {
	if ctx == nil {
		return ""
	}
	return ctx.LicenseID
}
