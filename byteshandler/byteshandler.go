// Package byteshandler dispatches raw file bytes to format-specific
// record extractors (PDF today) before falling back to the text decode
// path in extract.
package byteshandler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/sievio/repocapsule/records"
)

// ErrUnsupportedBinary signals that a handler recognized the format but
// could not extract text from it (e.g. a scanned, image-only PDF). The
// caller treats this as a skip, not a failure.
var ErrUnsupportedBinary = errors.New("byteshandler: unsupported binary content")

// Handler sniffs raw bytes and, on a match, extracts zero or more
// records from them.
type Handler struct {
	Name   string
	Sniff  func(data []byte, relPath string) bool
	Handle func(data []byte, relPath string, extra map[string]any) ([]records.Record, error)
}

// Registry is an ordered list of handlers; the first sniff match wins.
type Registry struct {
	handlers []Handler
}

// NewRegistry returns a Registry seeded with the built-in PDF handler.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(pdfHandler())
	return r
}

// Register appends h to the registry.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// HasHeavyHandlers reports whether the registry carries a handler for a
// CPU-heavy binary format (currently: PDF parsing). The plan builder
// uses this as one half of the auto executor-kind selection rule.
func (r *Registry) HasHeavyHandlers() bool {
	for _, h := range r.handlers {
		if h.Name == "pdf" {
			return true
		}
	}
	return false
}

// Dispatch runs the first matching handler's Handle. If no handler
// matches, ok is false and the caller should fall through to the text
// extraction path. Handler errors other than ErrUnsupportedBinary are
// returned so the dispatcher can log and fall through as well.
func (r *Registry) Dispatch(data []byte, relPath string, extra map[string]any) (recs []records.Record, ok bool, err error) {
	for _, h := range r.handlers {
		if !h.Sniff(data, relPath) {
			continue
		}
		recs, err = h.Handle(data, relPath, extra)
		if err != nil {
			if errors.Is(err, ErrUnsupportedBinary) {
				return nil, true, nil
			}
			return nil, true, err
		}
		return recs, true, nil
	}
	return nil, false, nil
}

var pdfMagic = []byte("%PDF-")

func pdfHandler() Handler {
	return Handler{
		Name:  "pdf",
		Sniff: func(data []byte, _ string) bool { return bytes.HasPrefix(data, pdfMagic) },
		Handle: func(data []byte, relPath string, extra map[string]any) ([]records.Record, error) {
			reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return nil, fmt.Errorf("byteshandler: opening pdf %s: %w", relPath, err)
			}

			var out []records.Record
			total := reader.NumPage()
			for i := 1; i <= total; i++ {
				page := reader.Page(i)
				if page.V.IsNull() {
					continue
				}
				text, err := page.GetPlainText(nil)
				if err != nil || text == "" {
					continue
				}
				pageExtra := map[string]any{"page": i}
				for k, v := range extra {
					pageExtra[k] = v
				}
				rec := records.BuildRecord(records.BuildRecordInput{
					Text:      text,
					RelPath:   relPath,
					ChunkID:   i,
					NChunks:   total,
					ExtraMeta: pageExtra,
				})
				rec.Meta["kind"] = "pdf"
				out = append(out, rec)
			}
			if len(out) == 0 {
				return nil, ErrUnsupportedBinary
			}
			return out, nil
		},
	}
}
