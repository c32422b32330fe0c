// Package records classifies source files and assembles the canonical
// JSONL record shape emitted by every sink: a text body plus a flat
// metadata map (source, repo, path, license, lang, chunk_id, n_chunks,
// encoding, had_replacement, sha256, tokens, bytes).
package records

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/sievio/repocapsule/chunker"
)

// Kind is the coarse file classification used to pick a token ratio.
type Kind string

const (
	KindCode Kind = "code"
	KindDoc  Kind = "doc"
)

// CodeExts lists extensions treated as source/config code.
var CodeExts = map[string]bool{
	".py": true, ".pyw": true, ".py3": true, ".ipynb": true,
	".ps1": true, ".psm1": true, ".psd1": true, ".bat": true, ".cmd": true, ".sh": true, ".bash": true, ".zsh": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true, ".hh": true, ".cxx": true, ".hxx": true,
	".cs": true, ".java": true, ".kt": true, ".kts": true, ".scala": true, ".go": true, ".rs": true, ".swift": true,
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".rb": true, ".php": true, ".pl": true, ".pm": true,
	".lua": true, ".r": true, ".jl": true,
	".sql": true, ".sparql": true,
	".json": true, ".jsonc": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".cfg": true,
	".xml": true, ".xslt": true,
	".yara": true, ".yar": true, ".sigma": true, ".ndjson": true, ".log": true,
}

// DocExts lists extensions treated as prose documentation.
var DocExts = map[string]bool{
	".md": true, ".mdx": true, ".rst": true, ".adoc": true, ".txt": true,
}

// ExtLang maps a lower-cased extension to a coarse language tag.
var ExtLang = map[string]string{
	".py": "python", ".ipynb": "python",
	".ps1": "powershell", ".psm1": "powershell", ".psd1": "powershell",
	".bat": "batch", ".cmd": "batch",
	".sh": "bash", ".bash": "bash", ".zsh": "zsh",
	".c": "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".cc": "cpp", ".hh": "cpp", ".cxx": "cpp", ".hxx": "cpp",
	".cs": "csharp", ".java": "java", ".kt": "kotlin", ".kts": "kotlin", ".scala": "scala",
	".go": "go", ".rs": "rust", ".swift": "swift",
	".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript", ".cjs": "javascript",
	".rb": "ruby", ".php": "php", ".pl": "perl", ".pm": "perl",
	".lua": "lua", ".r": "r", ".jl": "julia",
	".sql": "sql", ".sparql": "sparql",
	".json": "json", ".jsonc": "json", ".yaml": "yaml", ".yml": "yaml",
	".toml": "toml", ".ini": "ini", ".cfg": "ini",
	".xml": "xml", ".xslt": "xml",
	".yara": "yara", ".yar": "yara", ".sigma": "sigma", ".ndjson": "ndjson", ".log": "log",
	".md": "markdown", ".mdx": "markdown", ".rst": "restructuredtext", ".adoc": "asciidoc", ".txt": "text",
}

// langTitleOverrides fixes up capitalize()-style defaults for tags whose
// conventional casing isn't a simple title case.
var langTitleOverrides = map[string]string{
	"ipynb": "Python", "ps1": "PowerShell", "psm1": "PowerShell", "psd1": "PowerShell",
	"js": "JavaScript", "ts": "TypeScript", "tsx": "TypeScript", "jsx": "JavaScript",
	"yml": "YAML", "md": "Markdown", "rst": "reStructuredText", "ndjson": "NDJSON",
	"json": "JSON", "xml": "XML", "ini": "INI", "toml": "TOML",
}

// LanguageConfig makes the extension tables above overridable per plan.
type LanguageConfig struct {
	CodeExts map[string]bool
	DocExts  map[string]bool
	ExtLang  map[string]string
}

// DefaultLanguageConfig returns a LanguageConfig backed by the package
// defaults above.
func DefaultLanguageConfig() LanguageConfig {
	return LanguageConfig{CodeExts: CodeExts, DocExts: DocExts, ExtLang: ExtLang}
}

func ext(relPath string) string {
	return strings.ToLower(path.Ext(relPath))
}

// GuessLangFromPath classifies relPath into a (kind, lang) pair. Unknown
// extensions are treated as doc, since that is the safer default for
// tokenization.
func GuessLangFromPath(relPath string, cfg *LanguageConfig) (Kind, string) {
	c := resolveConfig(cfg)
	e := ext(relPath)
	kind := KindDoc
	if c.CodeExts[e] {
		kind = KindCode
	}
	lang, ok := c.ExtLang[e]
	if !ok {
		if len(e) > 1 {
			lang = e[1:]
		} else {
			lang = "text"
		}
	}
	return kind, lang
}

// IsCodeFile reports whether relPath's extension is classified as code.
func IsCodeFile(relPath string, cfg *LanguageConfig) bool {
	c := resolveConfig(cfg)
	return c.CodeExts[ext(relPath)]
}

func resolveConfig(cfg *LanguageConfig) LanguageConfig {
	if cfg == nil {
		return DefaultLanguageConfig()
	}
	return *cfg
}

// SHA256Text returns the hex SHA-256 digest of text's UTF-8 bytes.
func SHA256Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BuildRecordInput gathers the optional fields used to assemble a
// record. RelPath and Text are required. RepoURL, RepoFullName and
// LicenseID are omitted from the output metadata when empty; an empty
// Lang or Encoding and a zero ChunkID or NChunks fall back to the
// path-derived language, "utf-8", 1 and 1.
type BuildRecordInput struct {
	Text           string
	RelPath        string
	RepoFullName   string
	RepoURL        string
	LicenseID      string
	Lang           string
	Encoding       string
	HadReplacement bool
	ChunkID        int
	NChunks        int
	ExtraMeta      map[string]any
	LangConfig     *LanguageConfig
}

// Record is the canonical JSONL unit: a text chunk plus flat metadata.
type Record struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta"`
}

// BuildRecord assembles a canonical record from in.Text. Token counts
// use chunker.ApproxTokenCount with a ratio matched to the file's coarse
// kind; byte counts are len(text) in UTF-8. Extra metadata is merged
// only for keys not already present.
func BuildRecord(in BuildRecordInput) Record {
	relPath := strings.ReplaceAll(in.RelPath, "\\", "/")
	kind, langHint := GuessLangFromPath(relPath, in.LangConfig)

	lang := in.Lang
	if lang == "" {
		lang = titleCase(langHint)
		e := strings.TrimPrefix(ext(relPath), ".")
		if override, ok := langTitleOverrides[e]; ok {
			lang = override
		}
	}

	encoding := in.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}
	chunkID := in.ChunkID
	if chunkID == 0 {
		chunkID = 1
	}
	nChunks := in.NChunks
	if nChunks == 0 {
		nChunks = 1
	}

	ckind := chunker.KindDoc
	if kind == KindCode {
		ckind = chunker.KindCode
	}

	meta := map[string]any{
		"kind":            string(kind),
		"path":            relPath,
		"lang":            lang,
		"chunk_id":        chunkID,
		"n_chunks":        nChunks,
		"encoding":        encoding,
		"had_replacement": in.HadReplacement,
		"sha256":          SHA256Text(in.Text),
		"tokens":          chunker.ApproxTokenCount(in.Text, ckind),
		"bytes":           len(in.Text),
	}
	if in.RepoURL != "" {
		meta["source"] = in.RepoURL
	} else if in.RepoFullName != "" {
		meta["source"] = fmt.Sprintf("https://github.com/%s", in.RepoFullName)
	}
	if in.RepoFullName != "" {
		meta["repo"] = in.RepoFullName
	}
	if in.LicenseID != "" {
		meta["license"] = in.LicenseID
	}

	for k, v := range in.ExtraMeta {
		if _, exists := meta[k]; exists {
			continue
		}
		meta[k] = v
	}

	return Record{Text: in.Text, Meta: meta}
}

func titleCase(s string) string {
	if s == "" {
		return "text"
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] = r[0] - 32
	}
	return string(r)
}
