// Package decode turns arbitrary bytes into normalized Unicode text.
//
// decode_bytes never fails: unreadable bytes are handled by a chain of
// fallbacks (BOM sniffing, strict UTF-8, a UTF-16-without-BOM heuristic,
// cp1252/latin-1, and mojibake repair) with every lossy step recorded in
// the returned provenance so downstream consumers can tell lossless text
// from best-effort recovery.
package decode

import (
	"bytes"
	"encoding/binary"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// NormalizeForm names a Unicode normalization form, or "" to skip
// normalization entirely.
type NormalizeForm string

const (
	NFC       NormalizeForm = "NFC"
	NFKC      NormalizeForm = "NFKC"
	NFD       NormalizeForm = "NFD"
	NFKD      NormalizeForm = "NFKD"
	NoneForm  NormalizeForm = ""
)

// Options controls decode_bytes' behavior. The zero value is not a valid
// Options; use DefaultOptions.
type Options struct {
	Normalize     NormalizeForm
	StripControls bool
	FixMojibake   bool
}

// DefaultOptions matches the original implementation's defaults: NFC
// normalization, control stripping, and mojibake repair all enabled.
func DefaultOptions() Options {
	return Options{Normalize: NFC, StripControls: true, FixMojibake: true}
}

// Provenance records which lossy or lossless transformations decode_bytes
// applied. Flags are orthogonal.
type Provenance struct {
	DecodeReplacements bool
	MojibakeRepaired   bool
	ControlsStripped   int
	NewlinesNormalized bool
	UnicodeNormalized  bool
}

// Lossy reports whether decoding or post-processing removed or replaced
// characters.
func (p Provenance) Lossy() bool {
	return p.DecodeReplacements || p.ControlsStripped > 0
}

// Changed reports whether any transformation modified the decoded text.
func (p Provenance) Changed() bool {
	return p.DecodeReplacements || p.MojibakeRepaired || p.ControlsStripped > 0 ||
		p.NewlinesNormalized || p.UnicodeNormalized
}

// DecodedText is the result of decoding a byte slice into text.
//
// HadReplacement is set only when decoding itself (not post-processing)
// introduced U+FFFD replacement characters.
type DecodedText struct {
	Text           string
	Encoding       string
	HadReplacement bool
	Provenance     Provenance
}

type bomEntry struct {
	sig []byte
	enc string
}

// bomTable is ordered longest-signature-first so a 4-byte UTF-32 BOM is
// matched before the 2-byte UTF-16 BOM it is a superset prefix of.
var bomTable = []bomEntry{
	{[]byte{0x00, 0x00, 0xFE, 0xFF}, "utf-32-be"},
	{[]byte{0xFF, 0xFE, 0x00, 0x00}, "utf-32-le"},
	{[]byte{0xEF, 0xBB, 0xBF}, "utf-8-sig"},
	{[]byte{0xFE, 0xFF}, "utf-16-be"},
	{[]byte{0xFF, 0xFE}, "utf-16-le"},
}

func detectBOM(data []byte) string {
	for _, e := range bomTable {
		if bytes.HasPrefix(data, e.sig) {
			return e.enc
		}
	}
	return ""
}

// guessUTF16Endian infers UTF-16 endianness from NUL distribution in a
// leading sample, mirroring the reference heuristic: ASCII-heavy UTF-16
// text has a NUL byte in every other position.
func guessUTF16Endian(sample []byte) string {
	if len(sample) == 0 {
		return ""
	}
	evenNuls, oddNuls := 0, 0
	for i, b := range sample {
		if b != 0 {
			continue
		}
		if i%2 == 0 {
			evenNuls++
		} else {
			oddNuls++
		}
	}
	total := evenNuls + oddNuls
	threshold := len(sample) / 64
	if threshold < 4 {
		threshold = 4
	}
	if total < threshold {
		return ""
	}
	if evenNuls > oddNuls*2 {
		return "utf-16-be" // 00 xx 00 xx ...
	}
	if oddNuls > evenNuls*2 {
		return "utf-16-le" // xx 00 xx 00 ...
	}
	return ""
}

var zeroWidth = map[rune]bool{
	0x200B: true, // ZERO WIDTH SPACE
	0x200C: true, // ZERO WIDTH NON-JOINER
	0x200D: true, // ZERO WIDTH JOINER
	0x2060: true, // WORD JOINER
	0xFEFF: true, // ZERO WIDTH NO-BREAK SPACE (BOM when leading)
}

func normalizeNewlines(s string) (string, bool) {
	out := strings.ReplaceAll(s, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")
	return out, out != s
}

// isControlCategory reports whether r's Unicode general category is one
// of Cc (control), Cf (format), Co (private use) or Cs (surrogate).
// Unassigned code points (Cn) are not matched.
func isControlCategory(r rune) bool {
	for _, tbl := range []*unicode.RangeTable{unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs} {
		if unicode.Is(tbl, r) {
			return true
		}
	}
	return false
}

func stripUnsafeControls(s string) (string, int) {
	var b strings.Builder
	b.Grow(len(s))
	removed := 0
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if zeroWidth[r] {
			removed++
			continue
		}
		if isControlCategory(r) {
			removed++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), removed
}

func unicodeNormalize(s string, form NormalizeForm) (string, bool) {
	var f norm.Form
	switch form {
	case NFC:
		f = norm.NFC
	case NFKC:
		f = norm.NFKC
	case NFD:
		f = norm.NFD
	case NFKD:
		f = norm.NFKD
	default:
		return s, false
	}
	out := f.String(s)
	return out, out != s
}

// mojiRegex approximates typical UTF-8-decoded-as-cp1252 sequences, e.g.
// "Ã©", "â€™", "Â".
var mojiRegex = regexp.MustCompile("[\u00C0-\u00FF][\u0080-\u00FF]|\u00C3.|\u00E2.|\u00C2|\u00C2\\s|\uFFFD")

func mojibakeScore(s string) int {
	return len(mojiRegex.FindAllStringIndex(s, -1))
}

// repairCP1252AsUTF8 re-encodes text that was decoded as cp1252 back to
// bytes and attempts to decode those bytes as UTF-8. The repair is
// accepted only when it strictly reduces detected mojibake noise.
func repairCP1252AsUTF8(text string) (string, bool) {
	if mojibakeScore(text) == 0 {
		return text, false
	}
	raw, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil {
		return text, false
	}
	if !utf8.Valid([]byte(raw)) {
		return text, false
	}
	fixed := raw
	fixedScore := mojibakeScore(fixed)
	origScore := mojibakeScore(text)
	if origScore < 1 {
		origScore = 1
	}
	if fixedScore*3 < origScore {
		return fixed, true
	}
	return text, false
}

func decodeStrict(dec *encoding.Decoder, data []byte) (string, error) {
	out, err := dec.Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeBytes decodes arbitrary bytes into normalized Unicode text. It
// never returns an error: every failure mode falls through to a looser
// decoding strategy, with the final fallback (latin-1 with replacement)
// guaranteed to succeed.
func DecodeBytes(data []byte, opts Options) DecodedText {
	if len(data) == 0 {
		return DecodedText{Text: "", Encoding: "utf-8", HadReplacement: false}
	}

	finalize := func(text, enc string, decodeReplacements, mojibakeRepaired bool) DecodedText {
		processed, post := postprocess(text, opts)
		prov := Provenance{
			DecodeReplacements: decodeReplacements,
			MojibakeRepaired:   mojibakeRepaired,
			ControlsStripped:   post.controlsStripped,
			NewlinesNormalized: post.newlinesNormalized,
			UnicodeNormalized:  post.unicodeNormalized,
		}
		return DecodedText{Text: processed, Encoding: enc, HadReplacement: decodeReplacements, Provenance: prov}
	}

	// 1) BOM-driven strict decode.
	if enc := detectBOM(data); enc != "" {
		if text, err := decodeWithName(enc, data); err == nil {
			return finalize(text, enc, false, false)
		}
	}

	// 2) Strict UTF-8.
	if utf8.Valid(data) {
		return finalize(string(data), "utf-8", false, false)
	}

	// 2b) Heuristic UTF-16 guess over the first 4 KiB, no BOM required.
	sampleLen := len(data)
	if sampleLen > 4096 {
		sampleLen = 4096
	}
	if guess := guessUTF16Endian(data[:sampleLen]); guess != "" {
		if text, err := decodeWithName(guess, data); err == nil {
			return finalize(text, guess, false, false)
		}
	}

	// 3) cp1252 strict, else latin-1 with replacement (never fails).
	var text1252, encUsed string
	var decodeReplacements bool
	if text, err := decodeStrict(charmap.Windows1252.NewDecoder(), data); err == nil {
		text1252 = text
		encUsed = "cp1252"
		decodeReplacements = false
	} else {
		dec := charmap.ISO8859_1.NewDecoder()
		out, _ := dec.Bytes(data) // latin-1 is a total function over bytes; err is always nil
		text1252 = string(out)
		encUsed = "latin-1"
		decodeReplacements = strings.ContainsRune(text1252, '�')
	}

	mojibakeRepaired := false
	if opts.FixMojibake {
		repaired, changed := repairCP1252AsUTF8(text1252)
		mojibakeRepaired = changed
		text1252 = repaired
	}

	return finalize(text1252, encUsed, decodeReplacements, mojibakeRepaired)
}

func decodeWithName(name string, data []byte) (string, error) {
	switch name {
	case "utf-8-sig":
		rest := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
		if !utf8.Valid(rest) {
			return "", errInvalidEncoding
		}
		return string(rest), nil
	case "utf-16-be":
		return decodeUTF16Strict(data, binary.BigEndian)
	case "utf-16-le":
		return decodeUTF16Strict(data, binary.LittleEndian)
	case "utf-32-be":
		return decodeUTF32Strict(data, binary.BigEndian)
	case "utf-32-le":
		return decodeUTF32Strict(data, binary.LittleEndian)
	default:
		if !utf8.Valid(data) {
			return "", errInvalidEncoding
		}
		return string(data), nil
	}
}

var errInvalidEncoding = encoding.ErrInvalidUTF8

// decodeUTF16Strict decodes raw UTF-16 code units (no BOM stripped; a
// leading BOM sequence, if present in the data, decodes as a literal
// U+FEFF the same way Python's explicit "utf-16-be"/"utf-16-le" codecs
// do) rejecting odd-length input and unpaired surrogates.
func decodeUTF16Strict(data []byte, order binary.ByteOrder) (string, error) {
	if len(data)%2 != 0 {
		return "", errInvalidEncoding
	}
	units := make([]uint16, len(data)/2)
	for i := range units {
		units[i] = order.Uint16(data[2*i:])
	}
	for i := 0; i < len(units); i++ {
		r := units[i]
		switch {
		case r >= 0xD800 && r <= 0xDBFF:
			if i+1 >= len(units) || units[i+1] < 0xDC00 || units[i+1] > 0xDFFF {
				return "", errInvalidEncoding
			}
			i++
		case r >= 0xDC00 && r <= 0xDFFF:
			return "", errInvalidEncoding
		}
	}
	return string(utf16.Decode(units)), nil
}

// decodeUTF32Strict decodes raw UTF-32 code units, rejecting lengths not a
// multiple of 4 and code points outside the valid Unicode range.
func decodeUTF32Strict(data []byte, order binary.ByteOrder) (string, error) {
	if len(data)%4 != 0 {
		return "", errInvalidEncoding
	}
	var b strings.Builder
	b.Grow(len(data))
	for i := 0; i < len(data); i += 4 {
		cp := order.Uint32(data[i:])
		r := rune(cp)
		if cp > 0x10FFFF || (r >= 0xD800 && r <= 0xDFFF) || !utf8.ValidRune(r) {
			return "", errInvalidEncoding
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

type postprocessResult struct {
	newlinesNormalized bool
	controlsStripped   int
	unicodeNormalized  bool
}

func postprocess(s string, opts Options) (string, postprocessResult) {
	var res postprocessResult
	s, res.newlinesNormalized = normalizeNewlines(s)
	if opts.StripControls {
		s, res.controlsStripped = stripUnsafeControls(s)
	}
	if opts.Normalize != NoneForm {
		s, res.unicodeNormalized = unicodeNormalize(s, opts.Normalize)
	}
	return s, res
}

// Opener opens a fresh byte stream for ReadDecodedText/ReadText, used when
// callers need policy-controlled file access (size caps, virtual
// filesystems) instead of a bare path.
type Opener func() (io.ReadCloser, error)

// ReadDecodedText reads up to maxBytes (0 means unlimited) from opener and
// decodes them. It returns nil, not an error, when the stream cannot be
// opened or read — callers that only need text should use ReadText.
func ReadDecodedText(open Opener, maxBytes int64, opts Options) *DecodedText {
	rc, err := open()
	if err != nil {
		return nil
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	dt := DecodeBytes(data, opts)
	return &dt
}

// ReadText reads and decodes via opener, returning an empty string on any
// read failure rather than propagating an error.
func ReadText(open Opener, maxBytes int64, opts Options) string {
	dt := ReadDecodedText(open, maxBytes, opts)
	if dt == nil {
		return ""
	}
	return dt.Text
}
