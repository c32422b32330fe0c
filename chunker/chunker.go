// Package chunker splits decoded text into token-budgeted chunks.
//
// Two strategies are exposed: chunk_by_paragraphs, a structure-aware
// Markdown packer that keeps fenced code, tables, and lists intact, and
// chunk_by_lines, a deterministic line-accumulator for source code. Text
// kind selects the strategy in Chunk via Policy.Mode "auto".
package chunker

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ErrInvalidChunkPolicy is returned by Policy.Validate when a policy
// violates its sizing invariants.
var ErrInvalidChunkPolicy = errors.New("chunker: invalid chunk policy")

// Kind is the text category used to pick a chars-per-token ratio.
type Kind string

const (
	KindDoc  Kind = "doc"
	KindCode Kind = "code"
)

// Mode selects how Chunk dispatches between the two strategies.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeDoc  Mode = "doc"
	ModeCode Mode = "code"
)

// Policy controls chunk sizing. The zero value is invalid; use
// DefaultPolicy.
type Policy struct {
	Mode          Mode
	TargetTokens  int
	OverlapTokens int
	MinTokens     int
}

// DefaultPolicy mirrors the reference implementation's defaults.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeAuto, TargetTokens: 800, OverlapTokens: 100, MinTokens: 200}
}

// Validate rejects a Policy whose token-budget fields contradict each
// other: a non-positive target, an overlap that swallows the whole
// target, or a minimum that can never be reached below the target.
func (p Policy) Validate() error {
	if p.TargetTokens <= 0 {
		return fmt.Errorf("%w: target_tokens must be > 0, got %d", ErrInvalidChunkPolicy, p.TargetTokens)
	}
	if p.OverlapTokens < 0 || p.OverlapTokens >= p.TargetTokens {
		return fmt.Errorf("%w: overlap_tokens (%d) must be in [0, target_tokens)", ErrInvalidChunkPolicy, p.OverlapTokens)
	}
	if p.MinTokens < 0 || p.MinTokens > p.TargetTokens {
		return fmt.Errorf("%w: min_tokens (%d) must be in [0, target_tokens]", ErrInvalidChunkPolicy, p.MinTokens)
	}
	return nil
}

// Fragment is one packed chunk of source text.
type Fragment struct {
	Text       string
	Start      int // start byte offset within the original text
	End        int // end byte offset (exclusive)
	EstTokens  int
}

var punctSet = func() map[rune]bool {
	m := map[rune]bool{}
	for _, r := range "()[]{}<>=:+-*/%,.;$#@\\|`~^" {
		m[r] = true
	}
	return m
}()

// charTokenRatio estimates chars-per-token: code runs denser (more
// symbols, shorter identifiers) than prose.
func charTokenRatio(kind Kind, text string) float64 {
	n := len([]rune(text))
	if n == 0 {
		return 4.0
	}
	sym, digits, spaces := 0, 0, 0
	for _, r := range text {
		if punctSet[r] {
			sym++
		}
		if r >= '0' && r <= '9' {
			digits++
		}
		if r == ' ' || r == '\n' || r == '\t' {
			spaces++
		}
	}
	base := 4.0
	if kind == KindCode {
		base = 3.2
	}
	symDensity := float64(sym+digits) / float64(n)
	ratio := base - 0.8*symDensity + 0.2*(float64(spaces)/float64(n))
	if ratio < 2.8 {
		return 2.8
	}
	if ratio > 4.6 {
		return 4.6
	}
	return ratio
}

// ApproxTokenCount estimates the token count of text for the given kind.
func ApproxTokenCount(text string, kind Kind) int {
	if text == "" {
		return 0
	}
	ratio := charTokenRatio(kind, text)
	return int(math.Ceil(float64(len([]rune(text))) / ratio))
}

// ---------------------------------------------------------------------------
// Markdown block splitting
// ---------------------------------------------------------------------------

var (
	fenceOpenRe    = regexp.MustCompile("^\\s*([`~]{3,})([A-Za-z0-9_+-]*)\\s*$")
	fenceCloseRe   = regexp.MustCompile("^\\s*([`~]{3,})\\s*$")
	headingRe      = regexp.MustCompile(`^\s{0,3}#{1,6}\s+\S`)
	listRe         = regexp.MustCompile(`^\s{0,3}(?:[-*+]|\d+\.)\s+\S`)
	tableRowRe     = regexp.MustCompile(`\|.*\|`)
	hrRe           = regexp.MustCompile(`^\s{0,3}(?:-\s?){3,}$|^\s{0,3}(?:\*\s?){3,}$|^\s{0,3}(?:_\s?){3,}$`)
	indentedCodeRe = regexp.MustCompile(`^(?:\t| {4,})\S`)
	sentSplitRe    = regexp.MustCompile(`(?:[.!?])\s+`)
)

type block struct {
	text       string
	start, end int
}

// splitLinesKeepEnds splits text into lines, each retaining its trailing
// newline (mirroring Python's str.splitlines(keepends=True)).
func splitLinesKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i, r := range text {
		if r == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// splitMarkdownBlocks partitions text into structural blocks, keeping
// fenced code, tables, indented code, headings/HR/lists, and paragraphs
// as distinct units.
func splitMarkdownBlocks(text string) []block {
	lines := splitLinesKeepEnds(text)
	var blocks []block
	pos := 0
	var buf []string
	bufStart := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		bt := strings.Join(buf, "")
		blocks = append(blocks, block{bt, bufStart, bufStart + len(bt)})
		buf = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := fenceOpenRe.FindStringSubmatch(line); m != nil {
			flush()
			fenceChar := m[1][0]
			fenceLen := len(m[1])
			fenceStart := pos
			fenceBuf := []string{line}
			i++
			pos += len(line)
			for i < len(lines) {
				fenceBuf = append(fenceBuf, lines[i])
				cm := fenceCloseRe.FindStringSubmatch(lines[i])
				pos += len(lines[i])
				i++
				if cm != nil && cm[1][0] == fenceChar && len(cm[1]) >= fenceLen {
					break
				}
			}
			blocks = append(blocks, block{strings.Join(fenceBuf, ""), fenceStart, pos})
			continue
		}

		if tableRowRe.MatchString(line) {
			flush()
			tstart := pos
			tbuf := []string{line}
			i++
			pos += len(line)
			for i < len(lines) && tableRowRe.MatchString(lines[i]) {
				tbuf = append(tbuf, lines[i])
				pos += len(lines[i])
				i++
			}
			blocks = append(blocks, block{strings.Join(tbuf, ""), tstart, pos})
			continue
		}

		if indentedCodeRe.MatchString(line) {
			flush()
			cstart := pos
			cbuf := []string{line}
			i++
			pos += len(line)
			for i < len(lines) && (strings.TrimSpace(lines[i]) == "" || indentedCodeRe.MatchString(lines[i])) {
				cbuf = append(cbuf, lines[i])
				pos += len(lines[i])
				i++
			}
			blocks = append(blocks, block{strings.Join(cbuf, ""), cstart, pos})
			continue
		}

		if headingRe.MatchString(line) || hrRe.MatchString(line) || listRe.MatchString(line) {
			flush()
			blocks = append(blocks, block{line, pos, pos + len(line)})
			i++
			pos += len(line)
			continue
		}

		if len(buf) == 0 {
			bufStart = pos
		}
		buf = append(buf, line)
		i++
		pos += len(line)
		if strings.TrimSpace(line) == "" {
			flush()
		}
	}
	flush()
	return blocks
}

// splitIntoSentences splits p on sentSplitRe without losing the
// terminator: regexp.Split consumes the matched "[.!?]\s+" entirely, so
// it drops the punctuation between sentences (RE2 has no lookbehind to
// express "split after the punctuation, not including it"). Instead,
// find match positions and slice so each terminator stays attached to
// the sentence preceding it.
func splitIntoSentences(p string) []string {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil
	}
	locs := sentSplitRe.FindAllStringIndex(p, -1)
	if locs == nil {
		return []string{p}
	}
	out := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		termEnd := loc[0] + 1 // the [.!?] terminator is always one byte
		if s := strings.TrimSpace(p[start:termEnd]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(p[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Paragraph (structure-aware) chunking
// ---------------------------------------------------------------------------

// ChunkByParagraphs greedily packs Markdown blocks into fragments of
// roughly target tokens, splitting blocks larger than twice the target by
// sentence (prose) or by line (fenced/indented code) and applying a
// character-based overlap tail between fragments. A block of up to twice
// the target is kept whole, so a fragment can exceed the target.
func ChunkByParagraphs(text string, targetTokens, overlapTokens, minTokens int) []Fragment {
	blocks := splitMarkdownBlocks(text)
	var fragments []Fragment
	var curText []string
	curStart := 0

	curJoined := func() string { return strings.Join(curText, "") }

	flushChunk := func(kind Kind) {
		if len(curText) == 0 {
			return
		}
		ct := curJoined()
		est := ApproxTokenCount(ct, kind)
		fragments = append(fragments, Fragment{Text: ct, Start: curStart, End: curStart + len(ct), EstTokens: est})
		if overlapTokens > 0 {
			ratio := charTokenRatio(KindDoc, ct)
			tailChars := int(float64(overlapTokens) * ratio)
			if tailChars > len(ct) {
				tailChars = len(ct)
			}
			tail := ct[len(ct)-tailChars:]
			curText = []string{tail}
			curStart = fragments[len(fragments)-1].End - len(tail)
		} else {
			curText = nil
		}
	}

	for _, b := range blocks {
		if strings.TrimSpace(b.text) == "" {
			continue
		}
		bTokens := ApproxTokenCount(b.text, KindDoc)

		if bTokens > 2*targetTokens {
			if strings.Contains(b.text, "```") || strings.HasPrefix(b.text, "    ") {
				lines := splitLinesKeepEnds(b.text)
				fencePrefix, fenceSuffix := "", ""
				if len(lines) > 0 {
					first := strings.TrimSpace(lines[0])
					if strings.HasPrefix(first, "```") || strings.HasPrefix(first, "~~~") {
						fencePrefix = lines[0]
						lines = lines[1:]
						if len(lines) > 0 {
							last := strings.TrimSpace(lines[len(lines)-1])
							if strings.HasPrefix(last, "```") || strings.HasPrefix(last, "~~~") {
								fenceSuffix = lines[len(lines)-1]
								lines = lines[:len(lines)-1]
							}
						}
					}
				}
				var pack []string
				for _, ln := range lines {
					pack = append(pack, ln)
					est := ApproxTokenCount(strings.Join(pack, ""), KindCode)
					if est >= targetTokens {
						sub := strings.Join(pack, "")
						if fencePrefix != "" {
							suffix := fenceSuffix
							if suffix == "" {
								suffix = strings.TrimRight(fencePrefix, "\n")
							}
							sub = fencePrefix + sub + suffix
						}
						curText = append(curText, sub)
						flushChunk(KindCode)
						pack = nil
					}
				}
				if len(pack) > 0 {
					sub := strings.Join(pack, "")
					if fencePrefix != "" {
						suffix := fenceSuffix
						if suffix == "" {
							suffix = strings.TrimRight(fencePrefix, "\n")
						}
						sub = fencePrefix + sub + suffix
					}
					curText = append(curText, sub)
					// intentionally not flushed: lets the next block pack
					// in alongside this tail, matching the reference packer.
				}
				continue
			}

			sentences := splitIntoSentences(b.text)
			if len(sentences) == 0 {
				ratio := charTokenRatio(KindDoc, b.text)
				stepChars := int(float64(targetTokens) * ratio)
				if stepChars < 1 {
					stepChars = 1
				}
				for i := 0; i < len(b.text); i += stepChars {
					end := i + stepChars
					if end > len(b.text) {
						end = len(b.text)
					}
					curText = append(curText, b.text[i:end])
					flushChunk(KindDoc)
				}
				continue
			}
			var pack []string
			for _, s := range sentences {
				candidate := strings.TrimSpace(strings.Join(append(append([]string{}, pack...), s), " "))
				if len(pack) > 0 && ApproxTokenCount(candidate, KindDoc) > targetTokens {
					curText = append(curText, strings.TrimSpace(strings.Join(pack, " "))+"\n")
					flushChunk(KindDoc)
					pack = []string{s}
				} else {
					pack = append(pack, s)
				}
			}
			if len(pack) > 0 {
				curText = append(curText, strings.TrimSpace(strings.Join(pack, " "))+"\n")
			}
			continue
		}

		candidate := curJoined() + b.text
		if ApproxTokenCount(candidate, KindDoc) > targetTokens && ApproxTokenCount(curJoined(), KindDoc) >= minTokens {
			flushChunk(KindDoc)
			curText = []string{b.text}
			curStart = b.start
		} else {
			if len(curText) == 0 {
				curStart = b.start
			}
			curText = append(curText, b.text)
		}
	}

	flushChunk(KindDoc)
	if len(fragments) == 0 && text != "" {
		fragments = append(fragments, Fragment{Text: text, Start: 0, End: len(text), EstTokens: ApproxTokenCount(text, KindDoc)})
	}
	return fragments
}

// ---------------------------------------------------------------------------
// Line-based (code) chunking
// ---------------------------------------------------------------------------

// ChunkByLines accumulates source lines until the code token estimate
// reaches target tokens, optionally carrying a trailing window of lines
// forward as overlap.
func ChunkByLines(text string, targetTokens, overlapLines int) []Fragment {
	lines := splitLinesKeepEnds(text)
	var fragments []Fragment
	var buf []string
	bufStart := 0
	start := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		s := strings.Join(buf, "")
		est := ApproxTokenCount(s, KindCode)
		fragments = append(fragments, Fragment{Text: s, Start: bufStart, End: bufStart + len(s), EstTokens: est})
		if overlapLines > 0 {
			from := start - overlapLines
			if from < 0 {
				from = 0
			}
			tail := lines[from:start]
			tailText := strings.Join(tail, "")
			buf = []string{tailText}
			bufStart = fragments[len(fragments)-1].End - len(tailText)
		} else {
			buf = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		if len(buf) == 0 {
			offset := 0
			for _, l := range lines[:i] {
				offset += len(l)
			}
			bufStart = offset
		}
		buf = append(buf, lines[i])
		start = i + 1
		if ApproxTokenCount(strings.Join(buf, ""), KindCode) >= targetTokens {
			flush()
		}
	}
	flush()
	if len(fragments) == 0 && text != "" {
		fragments = append(fragments, Fragment{Text: text, Start: 0, End: len(text), EstTokens: ApproxTokenCount(text, KindCode)})
	}
	return fragments
}

// looksLikeCode applies a quick symbol-density / short-line heuristic to
// pick between the code and doc strategies under ModeAuto.
func looksLikeCode(text string) bool {
	if text == "" {
		return false
	}
	punct := 0
	for _, r := range text {
		if punctSet[r] {
			punct++
		}
	}
	lines := strings.Split(text, "\n")
	shortLines := 0
	for _, l := range lines {
		if len(l) <= 60 {
			shortLines++
		}
	}
	totalLines := len(lines)
	if totalLines == 0 {
		totalLines = 1
	}
	if float64(punct)/float64(len([]rune(text))) > 0.06 {
		return true
	}
	return float64(shortLines)/float64(totalLines) > 0.7 && totalLines > 6
}

// Chunk splits text per policy, auto-selecting the code or doc strategy
// when Policy.Mode is ModeAuto.
func Chunk(text string, policy Policy) []Fragment {
	mode := policy.Mode
	if mode == ModeAuto {
		if looksLikeCode(text) {
			mode = ModeCode
		} else {
			mode = ModeDoc
		}
	}
	if mode == ModeCode {
		return ChunkByLines(text, policy.TargetTokens, 0)
	}
	return ChunkByParagraphs(text, policy.TargetTokens, policy.OverlapTokens, policy.MinTokens)
}
