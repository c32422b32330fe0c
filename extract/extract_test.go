package extract

import (
	"testing"

	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/decode"
	"github.com/sievio/repocapsule/records"
	"github.com/sievio/repocapsule/sources"
)

func TestIterRecordsFromBytesBuildsChunkedRecords(t *testing.T) {
	text := "print('hello')\nprint('world')\n"
	recs, err := IterRecordsFromBytes([]byte(text), "main.py", Options{
		DecodeOpts: decode.DefaultOptions(),
		Policy:     chunker.DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected at least one record")
	}
	if recs[0].Meta["lang"] != "Python" {
		t.Fatalf("expected lang=Python, got %v", recs[0].Meta["lang"])
	}
	if recs[0].Meta["chunk_id"] != 1 {
		t.Fatalf("expected first chunk_id=1, got %v", recs[0].Meta["chunk_id"])
	}
}

func TestIterRecordsFromBytesUserExtractorShortCircuits(t *testing.T) {
	called := false
	extractor := func(text, relPath string, ctx *sources.RepoContext) ([]records.Record, error) {
		called = true
		return []records.Record{{Text: "custom", Meta: map[string]any{"path": relPath}}}, nil
	}
	recs, err := IterRecordsFromBytes([]byte("hello"), "a.txt", Options{
		DecodeOpts: decode.DefaultOptions(),
		Policy:     chunker.DefaultPolicy(),
		Extractors: []UserExtractor{extractor},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected user extractor to be invoked")
	}
	if len(recs) != 1 || recs[0].Text != "custom" {
		t.Fatalf("expected user extractor's output to win, got %+v", recs)
	}
}

func TestIterRecordsFromBytesEmptyInputYieldsNoRecords(t *testing.T) {
	recs, err := IterRecordsFromBytes(nil, "empty.txt", Options{
		DecodeOpts: decode.DefaultOptions(),
		Policy:     chunker.DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records for empty input, got %d", len(recs))
	}
}
