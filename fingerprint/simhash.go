// Package fingerprint computes SimHash/MinHash text fingerprints and
// persists MinHash-LSH near-duplicate state in an embedded KV store.
package fingerprint

import (
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Accelerator is the swap-in point for a native-accelerated fingerprint
// backend. pureGo is the only implementation shipped; nothing currently
// plugs a faster one in.
type Accelerator interface {
	SimHash64(text string, maxTokens int) uint64
	MinHashSignature(text string, k, nPerm int, maxShingles int) []uint32
}

type pureGo struct{}

// Default is the package-level Accelerator used by SimHash64 and
// MinHashSignature below.
var Default Accelerator = pureGo{}

// SimHash64 computes a 64-bit SimHash over whitespace-lowercased tokens.
// maxTokens <= 0 means unbounded.
func SimHash64(text string, maxTokens int) uint64 {
	return Default.SimHash64(text, maxTokens)
}

func (pureGo) SimHash64(text string, maxTokens int) uint64 {
	fields := strings.Fields(strings.ToLower(text))
	if maxTokens > 0 && len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	if len(fields) == 0 {
		return 0
	}
	if len(fields) == 1 {
		return hashToken64(fields[0])
	}

	var counters [64]int
	for _, tok := range fields {
		h := hashToken64(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				counters[i]++
			} else {
				counters[i]--
			}
		}
	}
	var out uint64
	for i := 0; i < 64; i++ {
		if counters[i] > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// hashToken64 hashes tok with BLAKE2b configured for a 64-bit digest
// (the "BLAKE2b-64" variant), read back little-endian.
func hashToken64(tok string) uint64 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// blake2b.New only errors on bad key/size; 8 bytes, nil key is
		// always valid, so this path is unreachable.
		panic(err)
	}
	h.Write([]byte(tok))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}
