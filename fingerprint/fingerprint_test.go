package fingerprint

import (
	"path/filepath"
	"testing"
)

func TestSimHash64Deterministic(t *testing.T) {
	a := SimHash64("the quick brown fox jumps over the lazy dog", 0)
	b := SimHash64("the quick brown fox jumps over the lazy dog", 0)
	if a != b {
		t.Fatalf("simhash not deterministic: %x != %x", a, b)
	}
}

func TestSimHash64SingleTokenShortCircuits(t *testing.T) {
	got := SimHash64("hello", 0)
	want := hashToken64("hello")
	if got != want {
		t.Fatalf("single-token simhash = %x, want raw hash %x", got, want)
	}
}

func TestMinHashSignatureDeterministicAndLengthMatchesNPerm(t *testing.T) {
	sig1 := MinHashSignature("the quick brown fox", 4, 16, 0)
	sig2 := MinHashSignature("the quick brown fox", 4, 16, 0)
	if len(sig1) != 16 {
		t.Fatalf("signature length = %d, want 16", len(sig1))
	}
	for i := range sig1 {
		if sig1[i] != sig2[i] {
			t.Fatalf("minhash signature not deterministic at index %d", i)
		}
	}
}

func TestMinHashSignatureEmptyInputFillsSentinel(t *testing.T) {
	sig := MinHashSignature("", 4, 8, 0)
	for i, v := range sig {
		if v != 0xFFFFFFFF {
			t.Fatalf("sig[%d] = %x, want sentinel 0xFFFFFFFF for empty input", i, v)
		}
	}
}

func TestJaccardFromSignaturesIdenticalIsOne(t *testing.T) {
	sig := MinHashSignature("some text to shingle", 3, 32, 0)
	if got := JaccardFromSignatures(sig, sig); got != 1.0 {
		t.Fatalf("self-Jaccard = %v, want 1.0", got)
	}
}

func TestLSHStoreExactDuplicateByContentHash(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLSHStore(filepath.Join(dir, "lsh.db"), LSHParams{NPerm: 16, Bands: 4, JaccardThreshold: 0.8})
	if err != nil {
		t.Fatalf("OpenLSHStore: %v", err)
	}
	defer store.Close()

	sig := MinHashSignature("document body one", 4, 16, 0)
	res, err := store.CheckAndAdd("doc-1", sig, "hash-a", true)
	if err != nil {
		t.Fatalf("CheckAndAdd doc-1: %v", err)
	}
	if res.IsDuplicate {
		t.Fatal("doc-1 should not be a duplicate on first insert")
	}

	res2, err := store.CheckAndAdd("doc-2", sig, "hash-a", true)
	if err != nil {
		t.Fatalf("CheckAndAdd doc-2: %v", err)
	}
	if !res2.IsDuplicate || res2.MatchID != "doc-1" || res2.Score != 1.0 {
		t.Fatalf("expected exact content-hash duplicate match, got %+v", res2)
	}
}

func TestLSHStoreParamMismatchOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lsh.db")
	store, err := OpenLSHStore(path, LSHParams{NPerm: 16, Bands: 4, JaccardThreshold: 0.8})
	if err != nil {
		t.Fatalf("OpenLSHStore: %v", err)
	}
	store.Close()

	_, err = OpenLSHStore(path, LSHParams{NPerm: 16, Bands: 8, JaccardThreshold: 0.8})
	if err == nil {
		t.Fatal("expected parameter mismatch error on reopen with different bands")
	}
}

func TestLSHStoreSignatureLengthMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLSHStore(filepath.Join(dir, "lsh.db"), LSHParams{NPerm: 16, Bands: 4, JaccardThreshold: 0.8})
	if err != nil {
		t.Fatalf("OpenLSHStore: %v", err)
	}
	defer store.Close()

	_, err = store.CheckAndAdd("doc-1", make([]uint32, 8), "", true)
	if err != ErrSignatureLength {
		t.Fatalf("err = %v, want ErrSignatureLength", err)
	}
}
