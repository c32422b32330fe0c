package sources

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteOptions configures a SQLiteSource.
type SQLiteOptions struct {
	DBPath     string
	Query      string
	TextColumn string
	PathColumn string
	Context    *RepoContext
	Logger     *slog.Logger
}

// SQLiteSource runs a single SELECT query against a SQLite database and
// yields one FileItem per row, reading TextColumn as the body and
// PathColumn (or a synthesized "<db>:#<rownum>") as the path.
type SQLiteSource struct {
	opts SQLiteOptions
	ctx  *RepoContext
}

// NewSQLiteSource returns a Source that will open opts.DBPath read-only
// and run opts.Query when iterated.
func NewSQLiteSource(opts SQLiteOptions) *SQLiteSource {
	if opts.TextColumn == "" {
		opts.TextColumn = "text"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SQLiteSource{opts: opts, ctx: opts.Context}
}

// Context returns the repo provenance attached at construction.
func (s *SQLiteSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; SQLiteSource opens and closes its connection scoped
// to a single Iter call.
func (s *SQLiteSource) Close() error { return nil }

// Iter opens the database read-only, runs the configured query, and
// streams rows as FileItems until the query is exhausted or the
// consumer stops iteration.
func (s *SQLiteSource) Iter(yield func(FileItem) bool) error {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", s.opts.DBPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("sources: opening sqlite db %s: %w", s.opts.DBPath, err)
	}
	defer db.Close()

	rows, err := db.Query(s.opts.Query)
	if err != nil {
		return fmt.Errorf("sources: running sqlite query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	textIdx, pathIdx := -1, -1
	for i, c := range cols {
		if strings.EqualFold(c, s.opts.TextColumn) {
			textIdx = i
		}
		if s.opts.PathColumn != "" && strings.EqualFold(c, s.opts.PathColumn) {
			pathIdx = i
		}
	}
	if textIdx < 0 {
		return fmt.Errorf("sources: sqlite query has no %q column", s.opts.TextColumn)
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	rowNum := 0
	for rows.Next() {
		rowNum++
		if err := rows.Scan(ptrs...); err != nil {
			s.opts.Logger.Warn("sqlite source: row scan error", "error", err)
			continue
		}
		text := asString(vals[textIdx])
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		rel := ""
		if pathIdx >= 0 {
			rel = asString(vals[pathIdx])
		}
		if rel == "" {
			rel = fmt.Sprintf("%s:#%d", s.opts.DBPath, rowNum)
		}
		data := []byte(text)
		if !yield(FileItem{Path: rel, Data: data, Size: len(data)}) {
			return nil
		}
	}
	return rows.Err()
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
