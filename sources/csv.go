package sources

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CSVOptions configures a CSVSource.
type CSVOptions struct {
	Paths           []string
	TextColumn      string
	TextColumnIndex int
	Delimiter       rune
	HasHeader       bool
	Context         *RepoContext
	Logger          *slog.Logger
}

// CSVSource reads one FileItem per row out of one or more CSV/TSV
// files, optionally gzip-compressed. Each row's text column becomes
// the item's bytes; with a header, the first non-empty
// "path"/"filepath"/"file_path"/"id" column becomes its path, falling
// back to "<file>:#<line>".
type CSVSource struct {
	opts CSVOptions
	ctx  *RepoContext
}

// NewCSVSource returns a Source reading opts.Paths.
func NewCSVSource(opts CSVOptions) *CSVSource {
	if opts.TextColumn == "" {
		opts.TextColumn = "text"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CSVSource{opts: opts, ctx: opts.Context}
}

// Context returns the repo provenance attached at construction.
func (s *CSVSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; CSVSource holds no scoped resources across calls.
func (s *CSVSource) Close() error { return nil }

// Iter streams rows from each configured path in order.
func (s *CSVSource) Iter(yield func(FileItem) bool) error {
	for _, p := range s.opts.Paths {
		if err := s.iterOne(p, yield); err != nil {
			return nil
		}
	}
	return nil
}

func (s *CSVSource) iterOne(p string, yield func(FileItem) bool) error {
	f, err := os.Open(p)
	if err != nil {
		s.opts.Logger.Warn("csv source: file not found", "path", p, "error", err)
		return nil
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipCSVName(p) {
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			s.opts.Logger.Warn("csv source: failed to open gzip stream", "path", p, "error", gzErr)
			return nil
		}
		defer gz.Close()
		r = gz
	}

	reader := csv.NewReader(r)
	reader.Comma = s.resolveDelimiter(p)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var header []string
	lineno := 1
	if s.opts.HasHeader {
		h, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				s.opts.Logger.Warn("csv source: failed to read header", "path", p, "error", err)
			}
			return nil
		}
		header = h
		lineno = 2
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.opts.Logger.Warn("csv source: row read error", "path", p, "error", err)
			continue
		}

		var item *FileItem
		if s.opts.HasHeader {
			item = rowWithHeaderToItem(header, row, s.opts.TextColumn, filepath.Base(p), lineno)
		} else {
			item = rowNoHeaderToItem(row, s.opts.TextColumnIndex, filepath.Base(p), lineno)
		}
		lineno++
		if item == nil {
			continue
		}
		if !yield(*item) {
			return fmt.Errorf("stop")
		}
	}
	return nil
}

func isGzipCSVName(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".csv.gz") || strings.HasSuffix(lower, ".tsv.gz")
}

func (s *CSVSource) resolveDelimiter(p string) rune {
	if s.opts.Delimiter != 0 {
		return s.opts.Delimiter
	}
	lower := strings.ToLower(p)
	if strings.Contains(lower, ".tsv") {
		return '\t'
	}
	return ','
}

func rowWithHeaderToItem(header, row []string, textColumn, fileBase string, lineno int) *FileItem {
	rec := map[string]string{}
	for i, h := range header {
		if i < len(row) {
			rec[h] = row[i]
		}
	}
	text := strings.TrimSpace(rec[textColumn])
	if text == "" {
		return nil
	}
	rel := fileBase + ":#" + itoaCSV(lineno)
	for _, key := range []string{"path", "filepath", "file_path", "id"} {
		if v, ok := rec[key]; ok && v != "" {
			rel = v
			break
		}
	}
	data := []byte(text)
	return &FileItem{Path: rel, Data: data, Size: len(data)}
}

func rowNoHeaderToItem(row []string, idx int, fileBase string, lineno int) *FileItem {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	text := strings.TrimSpace(row[idx])
	if text == "" {
		return nil
	}
	data := []byte(text)
	return &FileItem{Path: fileBase + ":#" + itoaCSV(lineno), Data: data, Size: len(data)}
}

func itoaCSV(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
