package sources

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// JSONLOptions configures a JSONLSource.
type JSONLOptions struct {
	Paths      []string
	TextField  string
	PathField  string
	Context    *RepoContext
	Logger     *slog.Logger
}

// JSONLSource reads one FileItem per line of one or more JSON-Lines
// files (gzip-compressed when named *.jsonl.gz), taking TextField as
// the item body and PathField (or a synthesized "<file>:#<line>") as
// its path.
type JSONLSource struct {
	opts JSONLOptions
	ctx  *RepoContext
}

// NewJSONLSource returns a Source reading opts.Paths.
func NewJSONLSource(opts JSONLOptions) *JSONLSource {
	if opts.TextField == "" {
		opts.TextField = "text"
	}
	if opts.PathField == "" {
		opts.PathField = "path"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JSONLSource{opts: opts, ctx: opts.Context}
}

// Context returns the repo provenance attached at construction.
func (s *JSONLSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; JSONLSource holds no scoped resources across calls.
func (s *JSONLSource) Close() error { return nil }

// Iter streams records from each configured path in order.
func (s *JSONLSource) Iter(yield func(FileItem) bool) error {
	for _, p := range s.opts.Paths {
		stop, err := s.iterOne(p, yield)
		if err != nil {
			s.opts.Logger.Warn("jsonl source: failed to read file", "path", p, "error", err)
			continue
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *JSONLSource) iterOne(p string, yield func(FileItem) bool) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var scanner *bufio.Scanner
	if strings.HasSuffix(strings.ToLower(p), ".gz") {
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return false, gzErr
		}
		defer gz.Close()
		scanner = bufio.NewScanner(gz)
	} else {
		scanner = bufio.NewScanner(f)
	}
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	base := filepath.Base(p)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			s.opts.Logger.Warn("jsonl source: skipping malformed line", "path", p, "line", lineno, "error", err)
			continue
		}
		text, _ := row[s.opts.TextField].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		rel, _ := row[s.opts.PathField].(string)
		if rel == "" {
			rel = base + ":#" + strconv.Itoa(lineno)
		}
		data := []byte(text)
		if !yield(FileItem{Path: rel, Data: data, Size: len(data)}) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
