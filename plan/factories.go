package plan

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sievio/repocapsule/httpsafe"
	"github.com/sievio/repocapsule/sinks"
	"github.com/sievio/repocapsule/sources"
)

func stringsOpt(opts map[string]any, key string) []string {
	v, ok := opts[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func buildLocalDirSource(opts map[string]any, ctx *sources.RepoContext, _ *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	root, _ := stringOpt(opts, "root")
	if root == "" {
		return nil, fmt.Errorf("plan: local_dir source requires a root option")
	}
	return sources.NewLocalDirSource(sources.LocalDirOptions{
		Root:        root,
		IncludeExts: stringsOpt(opts, "include_exts"),
		ExcludeExts: stringsOpt(opts, "exclude_exts"),
		MaxBytes:    int64(intOpt(opts, "max_bytes", 0)),
		SkipHidden:  boolOpt(opts, "skip_hidden", true),
		Context:     ctx,
		Logger:      logger,
	}), nil
}

func buildZipSource(opts map[string]any, ctx *sources.RepoContext, _ *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	path, _ := stringOpt(opts, "path")
	if path == "" {
		return nil, fmt.Errorf("plan: zip source requires a path option")
	}
	data, err := readFileBytes(path)
	if err != nil {
		return nil, err
	}
	return sources.NewZipSource(sources.ZipOptions{
		Data:          data,
		IncludeExts:   stringsOpt(opts, "include_exts"),
		ExcludeExts:   stringsOpt(opts, "exclude_exts"),
		MaxBytes:      int64(intOpt(opts, "max_bytes", 0)),
		SkipHidden:    boolOpt(opts, "skip_hidden", true),
		StripTopLevel: boolOpt(opts, "strip_top_level", true),
		Context:       ctx,
		Logger:        logger,
	}), nil
}

func buildWebPdfListSource(opts map[string]any, ctx *sources.RepoContext, client *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	urls := stringsOpt(opts, "urls")
	if len(urls) == 0 {
		return nil, fmt.Errorf("plan: web_pdf_list source requires a non-empty urls option")
	}
	return sources.NewWebPdfListSource(sources.WebPdfListOptions{
		URLs:       urls,
		Client:     client,
		RequirePDF: boolOpt(opts, "require_pdf", true),
		AddPrefix:  mustString(opts, "add_prefix"),
		Context:    ctx,
		Logger:     logger,
	}), nil
}

func buildWebPagePdfSource(opts map[string]any, ctx *sources.RepoContext, client *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	pageURL, _ := stringOpt(opts, "page_url")
	if pageURL == "" {
		return nil, fmt.Errorf("plan: web_page_pdf source requires a page_url option")
	}
	return sources.NewWebPagePdfSource(sources.WebPagePdfOptions{
		PageURL:          pageURL,
		Client:           client,
		SameDomain:       boolOpt(opts, "same_domain", true),
		MaxLinks:         intOpt(opts, "max_links", 200),
		MatchRegex:       mustString(opts, "match_regex"),
		IncludeAmbiguous: boolOpt(opts, "include_ambiguous", false),
		RequirePDF:       boolOpt(opts, "require_pdf", true),
		AddPrefix:        mustString(opts, "add_prefix"),
		Context:          ctx,
		Logger:           logger,
	})
}

func buildCSVSource(opts map[string]any, ctx *sources.RepoContext, _ *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	paths := stringsOpt(opts, "paths")
	if len(paths) == 0 {
		return nil, fmt.Errorf("plan: csv source requires a non-empty paths option")
	}
	var delim rune
	if d, ok := stringOpt(opts, "delimiter"); ok && len(d) == 1 {
		delim = rune(d[0])
	}
	return sources.NewCSVSource(sources.CSVOptions{
		Paths:           paths,
		TextColumn:      mustString(opts, "text_column"),
		TextColumnIndex: intOpt(opts, "text_column_index", 0),
		Delimiter:       delim,
		HasHeader:       boolOpt(opts, "has_header", true),
		Context:         ctx,
		Logger:          logger,
	}), nil
}

func buildJSONLSource(opts map[string]any, ctx *sources.RepoContext, _ *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	paths := stringsOpt(opts, "paths")
	if len(paths) == 0 {
		return nil, fmt.Errorf("plan: jsonl source requires a non-empty paths option")
	}
	return sources.NewJSONLSource(sources.JSONLOptions{
		Paths:     paths,
		TextField: mustString(opts, "text_field"),
		PathField: mustString(opts, "path_field"),
		Context:   ctx,
		Logger:    logger,
	}), nil
}

func buildSQLiteSource(opts map[string]any, ctx *sources.RepoContext, _ *httpsafe.Client, logger *slog.Logger) (sources.Source, error) {
	dbPath, _ := stringOpt(opts, "db_path")
	query, _ := stringOpt(opts, "query")
	if dbPath == "" || query == "" {
		return nil, fmt.Errorf("plan: sqlite source requires db_path and query options")
	}
	return sources.NewSQLiteSource(sources.SQLiteOptions{
		DBPath:     dbPath,
		Query:      query,
		TextColumn: mustString(opts, "text_column"),
		PathColumn: mustString(opts, "path_column"),
		Context:    ctx,
		Logger:     logger,
	}), nil
}

func buildJSONLSink(opts map[string]any, sinksDir string) (sinks.Sink, error) {
	path, _ := stringOpt(opts, "path")
	if path == "" {
		return nil, fmt.Errorf("plan: jsonl sink requires a path option")
	}
	return sinks.NewJSONLSink(resolvePath(sinksDir, path)), nil
}

func buildGzipJSONLSink(opts map[string]any, sinksDir string) (sinks.Sink, error) {
	path, _ := stringOpt(opts, "path")
	if path == "" {
		return nil, fmt.Errorf("plan: jsonl_gz sink requires a path option")
	}
	return sinks.NewGzipJSONLSink(resolvePath(sinksDir, path)), nil
}

func buildPromptTextSink(opts map[string]any, sinksDir string) (sinks.Sink, error) {
	path, _ := stringOpt(opts, "path")
	if path == "" {
		return nil, fmt.Errorf("plan: prompt_text sink requires a path option")
	}
	headingFmt, _ := stringOpt(opts, "heading_format")
	return sinks.NewPromptTextSink(resolvePath(sinksDir, path), headingFmt), nil
}

func buildParquetDatasetSink(opts map[string]any, sinksDir string) (sinks.Sink, error) {
	dir, _ := stringOpt(opts, "dir")
	if dir == "" {
		return nil, fmt.Errorf("plan: parquet_dataset sink requires a dir option")
	}
	return sinks.NewParquetDatasetSink(
		resolvePath(sinksDir, dir),
		stringsOpt(opts, "partition_by"),
		intOpt(opts, "row_group_size", 50000),
		boolOpt(opts, "overwrite", true),
	), nil
}

func mustString(opts map[string]any, key string) string {
	s, _ := stringOpt(opts, key)
	return s
}

func readFileBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: reading %s: %w", path, err)
	}
	return data, nil
}
