package fingerprint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketSignatures = []byte("signatures")
	bucketLSHIndex   = []byte("lsh_index")
	bucketMetadata   = []byte("metadata")

	metaKey = []byte("params")
)

// ErrParamMismatch is returned when an LSH store is reopened with
// parameters that differ from those recorded at creation time.
var ErrParamMismatch = errors.New("fingerprint: LSH store parameter mismatch")

// ErrSignatureLength is returned when a signature's length does not
// match the store's configured n_perm.
var ErrSignatureLength = errors.New("fingerprint: signature length mismatch")

// LSHParams are the fixed parameters of a MinHash-LSH store, persisted
// in its metadata bucket and enforced on every reopen.
type LSHParams struct {
	NPerm            int     `json:"n_perm"`
	Bands            int     `json:"bands"`
	JaccardThreshold float64 `json:"jaccard_threshold"`
}

// sigRow is the on-disk shape of a stored signature.
type sigRow struct {
	Sig         []uint32 `json:"sig"`
	ContentHash string   `json:"content_hash,omitempty"`
}

// DuplicateResult reports the outcome of CheckAndAdd.
type DuplicateResult struct {
	IsDuplicate bool
	MatchID     string
	Score       float64
}

// LSHStore is a persistent MinHash-LSH near-duplicate index backed by a
// bbolt database, with three logical tables: signatures, lsh_index, and
// metadata.
type LSHStore struct {
	db     *bbolt.DB
	params LSHParams
}

// OpenLSHStore opens (creating if absent) an LSH store at path. If the
// store already carries metadata, params must match exactly or
// ErrParamMismatch is returned.
func OpenLSHStore(path string, params LSHParams) (*LSHStore, error) {
	if params.NPerm <= 0 || params.Bands <= 0 || params.NPerm%params.Bands != 0 {
		return nil, fmt.Errorf("fingerprint: invalid LSH params %+v: n_perm must be a positive multiple of bands", params)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: opening LSH store: %w", err)
	}
	store := &LSHStore{db: db, params: params}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSignatures, bucketLSHIndex, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMetadata)
		existing := meta.Get(metaKey)
		if existing == nil {
			raw, err := json.Marshal(params)
			if err != nil {
				return err
			}
			return meta.Put(metaKey, raw)
		}
		var stored LSHParams
		if err := json.Unmarshal(existing, &stored); err != nil {
			return err
		}
		if stored != params {
			return ErrParamMismatch
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *LSHStore) Close() error {
	return s.db.Close()
}

func bandWidth(params LSHParams) int {
	return params.NPerm / params.Bands
}

func bandKey(band int, row []uint32) []byte {
	buf := make([]byte, 4+4*len(row))
	binary.LittleEndian.PutUint32(buf[:4], uint32(band))
	for i, v := range row {
		binary.LittleEndian.PutUint32(buf[4+4*i:], v)
	}
	return buf
}

// CheckAndAdd tests docID's signature against the store, returning a
// DuplicateResult. When contentHash is non-empty and already recorded
// under a different doc, that is reported as an exact duplicate without
// LSH probing. Otherwise, candidate IDs sharing any band key are tested
// by exact Jaccard; a match at or above the store's jaccard_threshold is
// reported. When addIfMissing is true and no duplicate was found, the
// signature (and its band-key rows) are inserted.
func (s *LSHStore) CheckAndAdd(docID string, sig []uint32, contentHash string, addIfMissing bool) (DuplicateResult, error) {
	if len(sig) != s.params.NPerm {
		return DuplicateResult{}, ErrSignatureLength
	}

	var result DuplicateResult
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sigs := tx.Bucket(bucketSignatures)
		idx := tx.Bucket(bucketLSHIndex)

		if contentHash != "" {
			c := sigs.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var row sigRow
				if err := json.Unmarshal(v, &row); err != nil {
					continue
				}
				if row.ContentHash == contentHash && string(k) != docID {
					result = DuplicateResult{IsDuplicate: true, MatchID: string(k), Score: 1.0}
					return nil
				}
			}
		}

		w := bandWidth(s.params)
		candidates := map[string]bool{}
		for b := 0; b < s.params.Bands; b++ {
			row := sig[b*w : (b+1)*w]
			key := bandKey(b, row)
			if raw := idx.Get(key); raw != nil {
				for _, id := range decodeIDList(raw) {
					if id != docID {
						candidates[id] = true
					}
				}
			}
		}

		best := DuplicateResult{}
		for id := range candidates {
			raw := sigs.Get([]byte(id))
			if raw == nil {
				continue
			}
			var row sigRow
			if err := json.Unmarshal(raw, &row); err != nil {
				continue
			}
			score := JaccardFromSignatures(sig, row.Sig)
			if score > best.Score {
				best = DuplicateResult{IsDuplicate: true, MatchID: id, Score: score}
			}
		}
		if best.IsDuplicate && best.Score >= s.params.JaccardThreshold {
			result = best
		}

		if !result.IsDuplicate && addIfMissing {
			raw, err := json.Marshal(sigRow{Sig: sig, ContentHash: contentHash})
			if err != nil {
				return err
			}
			if err := sigs.Put([]byte(docID), raw); err != nil {
				return err
			}
			for b := 0; b < s.params.Bands; b++ {
				row := sig[b*w : (b+1)*w]
				key := bandKey(b, row)
				existing := decodeIDList(idx.Get(key))
				existing = append(existing, docID)
				if err := idx.Put(key, encodeIDList(existing)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return DuplicateResult{}, err
	}
	return result, nil
}

func encodeIDList(ids []string) []byte {
	raw, _ := json.Marshal(ids)
	return raw
}

func decodeIDList(raw []byte) []string {
	if raw == nil {
		return nil
	}
	var ids []string
	_ = json.Unmarshal(raw, &ids)
	return ids
}
