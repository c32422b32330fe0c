package byteshandler

import "testing"

func TestRegistryDispatchNoMatchFallsThrough(t *testing.T) {
	r := NewRegistry()
	_, ok, err := r.Dispatch([]byte("plain text, not a pdf"), "a.txt", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no handler to match plain text")
	}
}

func TestRegistryDispatchPDFSniffMatchesMagic(t *testing.T) {
	r := NewRegistry()
	data := append([]byte("%PDF-1.4\n"), []byte("not a real pdf body")...)
	_, ok, err := r.Dispatch(data, "doc.pdf", nil)
	if !ok {
		t.Fatal("expected PDF handler to claim the magic-prefixed bytes")
	}
	// A malformed PDF body is expected to error rather than panic.
	if err == nil {
		t.Fatal("expected an error extracting a malformed PDF body")
	}
}
