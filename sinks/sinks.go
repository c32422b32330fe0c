// Package sinks implements the pipeline's record writers: plain and
// gzip-compressed JSONL, a prompt-text dump, and a partitioned NDJSON
// dataset standing in for the reference implementation's optional
// Parquet sink (see DESIGN.md for why Parquet itself was dropped).
package sinks

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sources"
)

// Sink is a destination for records. Open is called once before any
// Write call, Close exactly once after the last Write; both must
// tolerate being called even when the other produced zero records.
type Sink interface {
	Open(ctx *sources.RepoContext) error
	Write(rec records.Record) error
	Close() error
}

// JSONLSink writes one JSON object per line to a plain file, truncating
// any prior content on Open.
type JSONLSink struct {
	path string
	fp   *os.File
}

// NewJSONLSink returns a Sink writing newline-delimited JSON to path.
func NewJSONLSink(path string) *JSONLSink { return &JSONLSink{path: path} }

// Open creates path's parent directories and truncates the file.
func (s *JSONLSink) Open(_ *sources.RepoContext) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sinks: creating parent dir for %s: %w", s.path, err)
	}
	fp, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sinks: opening %s: %w", s.path, err)
	}
	s.fp = fp
	return nil
}

// Write appends rec as one JSON line.
func (s *JSONLSink) Write(rec records.Record) error {
	return writeJSONLine(s.fp, rec)
}

// Finalize appends the run-summary record as the JSONL file's last line.
func (s *JSONLSink) Finalize(rec records.Record) error {
	return s.Write(rec)
}

// Close flushes and closes the file; safe to call more than once.
func (s *JSONLSink) Close() error {
	if s.fp == nil {
		return nil
	}
	err := s.fp.Close()
	s.fp = nil
	return err
}

func writeJSONLine(w interface{ Write([]byte) (int, error) }, rec records.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sinks: marshaling record: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// GzipJSONLSink is JSONLSink's gzip-compressed counterpart.
type GzipJSONLSink struct {
	path string
	fp   *os.File
	gz   *gzip.Writer
}

// NewGzipJSONLSink returns a Sink writing gzip-compressed
// newline-delimited JSON to path.
func NewGzipJSONLSink(path string) *GzipJSONLSink { return &GzipJSONLSink{path: path} }

// Open creates path's parent directories and opens a fresh gzip stream.
func (s *GzipJSONLSink) Open(_ *sources.RepoContext) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sinks: creating parent dir for %s: %w", s.path, err)
	}
	fp, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sinks: opening %s: %w", s.path, err)
	}
	s.fp = fp
	s.gz = gzip.NewWriter(fp)
	return nil
}

// Write appends rec as one gzip-compressed JSON line.
func (s *GzipJSONLSink) Write(rec records.Record) error {
	return writeJSONLine(s.gz, rec)
}

// Finalize appends the run-summary record as the JSONL stream's last line.
func (s *GzipJSONLSink) Finalize(rec records.Record) error {
	return s.Write(rec)
}

// Close flushes the gzip stream and closes the underlying file.
func (s *GzipJSONLSink) Close() error {
	if s.gz == nil {
		return nil
	}
	gzErr := s.gz.Close()
	s.gz = nil
	fpErr := s.fp.Close()
	s.fp = nil
	if gzErr != nil {
		return gzErr
	}
	return fpErr
}

// DefaultHeadingFormat matches the reference implementation's
// "### {path} [{chunk_id}/{n_chunks}] (lang={lang})" prompt heading.
const DefaultHeadingFormat = "### %s [%v/%v] (lang=%v)\n\n"

// PromptTextSink renders every record as a human-readable prompt block:
// a heading line followed by the record's raw text.
type PromptTextSink struct {
	path       string
	headingFmt string
	fp         *os.File
}

// NewPromptTextSink returns a Sink writing prompt-formatted text to
// path. An empty headingFmt uses DefaultHeadingFormat.
func NewPromptTextSink(path, headingFmt string) *PromptTextSink {
	if headingFmt == "" {
		headingFmt = DefaultHeadingFormat
	}
	return &PromptTextSink{path: path, headingFmt: headingFmt}
}

// Open creates path's parent directories and truncates the file.
func (s *PromptTextSink) Open(_ *sources.RepoContext) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sinks: creating parent dir for %s: %w", s.path, err)
	}
	fp, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sinks: opening %s: %w", s.path, err)
	}
	s.fp = fp
	return nil
}

// Write renders rec's heading and body, ensuring the body ends in
// exactly one blank line before the next record.
func (s *PromptTextSink) Write(rec records.Record) error {
	rel := metaOr(rec, "path", "unknown")
	cid := metaOr(rec, "chunk_id", "?")
	n := metaOr(rec, "n_chunks", "?")
	lang := metaOr(rec, "lang", "?")

	if _, err := fmt.Fprintf(s.fp, s.headingFmt, rel, cid, n, lang); err != nil {
		return err
	}
	text := rec.Text
	if _, err := s.fp.WriteString(text); err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		if _, err := s.fp.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err := s.fp.WriteString("\n")
	return err
}

// Close flushes and closes the file; safe to call more than once.
func (s *PromptTextSink) Close() error {
	if s.fp == nil {
		return nil
	}
	err := s.fp.Close()
	s.fp = nil
	return err
}

func metaOr(rec records.Record, key string, fallback any) any {
	if rec.Meta == nil {
		return fallback
	}
	if v, ok := rec.Meta[key]; ok {
		return v
	}
	return fallback
}
