package qc

import (
	"strings"
	"sync"

	"github.com/sievio/repocapsule/fingerprint"
	"github.com/sievio/repocapsule/records"
)

// SimpleScorer is a reference Scorer combining a MinHash near-duplicate
// check against an LSH store with a length/symbol-ratio quality score;
// SimHash is reported as a signal only. It gives the pipeline something concrete to exercise
// end to end; it is not meant to be a state-of-the-art quality model.
type SimpleScorer struct {
	mu       sync.Mutex
	lsh      *fingerprint.LSHStore
	k        int
	nPerm    int
	nextDocN int
}

// NewSimpleScorer builds a scorer backed by lsh (may be nil to disable
// near-dup checks and always report near_dup=false).
func NewSimpleScorer(lsh *fingerprint.LSHStore, k, nPerm int) *SimpleScorer {
	return &SimpleScorer{lsh: lsh, k: k, nPerm: nPerm}
}

// CloneForParallel returns a scorer sharing the same LSH store (safe for
// concurrent use; bbolt serializes writes) but with independent internal
// counters.
func (s *SimpleScorer) CloneForParallel() Scorer {
	return &SimpleScorer{lsh: s.lsh, k: s.k, nPerm: s.nPerm}
}

// ScoreRecord scores rec on length/symbol density, records its SimHash in
// Signals and, when an LSH store is configured, flags near-duplicates via
// its MinHash signature.
func (s *SimpleScorer) ScoreRecord(rec records.Record) (Result, error) {
	text := rec.Text
	score := lengthSymbolScore(text)
	tokens := 0
	if t, ok := rec.Meta["tokens"].(int); ok {
		tokens = t
	}

	res := Result{
		Score:  &score,
		Tokens: tokens,
		Path:   bestEffortPath(rec),
		Signals: map[string]any{
			"simhash": fingerprint.SimHash64(text, 0),
		},
	}

	if s.lsh == nil {
		return res, nil
	}

	s.mu.Lock()
	s.nextDocN++
	docID := docKey(res.Path, s.nextDocN)
	s.mu.Unlock()

	sig := fingerprint.MinHashSignature(text, s.k, s.nPerm, 0)
	contentHash, _ := rec.Meta["sha256"].(string)
	dup, err := s.lsh.CheckAndAdd(docID, sig, contentHash, true)
	if err != nil {
		return Result{}, err
	}
	res.NearDup = dup.IsDuplicate
	if dup.IsDuplicate {
		res.DupFamilyID = dup.MatchID
		res.Signals["jaccard"] = dup.Score
	}
	return res, nil
}

func docKey(path string, n int) string {
	if path == "" {
		return "doc"
	}
	return path + "#" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// lengthSymbolScore rewards moderate length and penalizes very
// symbol-dense (likely minified or binary-ish) text, landing in [0, 1].
func lengthSymbolScore(text string) float64 {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	lengthScore := float64(n) / float64(n+500)

	symbols := 0
	for _, r := range text {
		if strings.ContainsRune("()[]{}<>=:+-*/%,.;$#@\\|`~^", r) {
			symbols++
		}
	}
	symDensity := float64(symbols) / float64(n)
	densityScore := 1.0 - symDensity
	if densityScore < 0 {
		densityScore = 0
	}

	return (lengthScore + densityScore) / 2
}
