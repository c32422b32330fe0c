package fingerprint

import (
	"encoding/binary"
	"math/bits"
	"math/rand/v2"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// fixedSeed is the deterministic MinHash coefficient seed, passed as both
// uint64 words of rand.NewPCG's 128-bit seed.
const fixedSeed = 0x5EED5EED

// mersenneP is a prime greater than 2^32, used as the MinHash modulus.
const mersenneP uint64 = 4294967311

// a, b are stored as uint64: mersenneP exceeds 2^32, so a uint32 field
// would silently wrap values drawn from the top of that range.
type coeffPair struct{ a, b uint64 }

// coeffCache lazily grows the deterministic (a_i, b_i) coefficient table,
// generated from a PRNG seeded by the fixed constant above. Access is
// serialized so concurrent callers observe a consistent prefix.
type coeffCache struct {
	mu    sync.Mutex
	pairs []coeffPair
	rng   *rand.Rand
}

var globalCoeffs = &coeffCache{}

func (c *coeffCache) ensure(n int) []coeffPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(fixedSeed, fixedSeed))
	}
	for len(c.pairs) < n {
		a := 1 + c.rng.Uint64N(mersenneP-2)
		b := c.rng.Uint64N(mersenneP - 1)
		c.pairs = append(c.pairs, coeffPair{a, b})
	}
	out := make([]coeffPair, n)
	copy(out, c.pairs[:n])
	return out
}

// mulMod computes a*b mod m without overflowing uint64: since a and b
// are both drawn from below mersenneP (just over 2^32), their product
// can exceed 2^64, so the full 128-bit product is reduced via its
// high/low words rather than truncated by a plain uint64 multiply.
func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi, lo, m)
	return rem
}

func hashShingle32(s string) uint32 {
	h, err := blake2b.New(8, nil)
	if err != nil {
		panic(err)
	}
	h.Write([]byte(s))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum)
}

func shingles(text string, k int) []string {
	runes := []rune(text)
	if k <= 0 || len(runes) < k {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-k+1)
	for i := 0; i+k <= len(runes); i++ {
		out = append(out, string(runes[i:i+k]))
	}
	return out
}

// MinHashSignature computes an n_perm-wide MinHash signature over
// k-character shingles of text. maxShingles, when > 0, caps how many
// leading shingles participate (only the first maxShingles+k-1 input
// characters are considered).
func MinHashSignature(text string, k, nPerm int, maxShingles int) []uint32 {
	return Default.MinHashSignature(text, k, nPerm, maxShingles)
}

func (pureGo) MinHashSignature(text string, k, nPerm int, maxShingles int) []uint32 {
	if maxShingles > 0 {
		runes := []rune(text)
		limit := maxShingles + k - 1
		if limit < len(runes) {
			text = string(runes[:limit])
		}
	}
	sh := shingles(text, k)
	sig := make([]uint32, nPerm)
	if len(sh) == 0 {
		for i := range sig {
			sig[i] = 0xFFFFFFFF
		}
		return sig
	}

	coeffs := globalCoeffs.ensure(nPerm)
	hashes := make([]uint64, len(sh))
	for i, s := range sh {
		hashes[i] = uint64(hashShingle32(s))
	}

	for i, c := range coeffs {
		min := uint64(mersenneP)
		for _, h0 := range hashes {
			v := (mulMod(c.a, h0, mersenneP) + c.b) % mersenneP
			if v < min {
				min = v
			}
		}
		sig[i] = uint32(min)
	}
	return sig
}

// JaccardFromSignatures estimates Jaccard similarity as the fraction of
// positions where two equal-length signatures agree.
func JaccardFromSignatures(a, b []uint32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	agree := 0
	for i := range a {
		if a[i] == b[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(a))
}
