package sources

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sievio/repocapsule/httpsafe"
)

// WebPdfListOptions configures a WebPdfListSource.
type WebPdfListOptions struct {
	URLs        []string
	Client      *httpsafe.Client
	RequirePDF  bool
	AddPrefix   string
	Context     *RepoContext
	Logger      *slog.Logger
}

// WebPdfListSource downloads a fixed list of PDF URLs and yields one
// FileItem per successfully fetched, sniffed document.
type WebPdfListSource struct {
	urls       []string
	client     *httpsafe.Client
	requirePDF bool
	addPrefix  string
	ctx        *RepoContext
	logger     *slog.Logger
}

// NewWebPdfListSource returns a Source fetching opts.URLs via opts.Client
// (an httpsafe.New(httpsafe.DefaultConfig()) client is used if nil).
func NewWebPdfListSource(opts WebPdfListOptions) *WebPdfListSource {
	client := opts.Client
	if client == nil {
		client = httpsafe.New(httpsafe.DefaultConfig())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPdfListSource{
		urls:       opts.URLs,
		client:     client,
		requirePDF: opts.RequirePDF,
		addPrefix:  strings.Trim(strings.ReplaceAll(opts.AddPrefix, "\\", "/"), "/"),
		ctx:        opts.Context,
		logger:     logger,
	}
}

// Context returns the repo provenance attached at construction.
func (s *WebPdfListSource) Context() *RepoContext { return s.ctx }

// Close is a no-op; WebPdfListSource holds no scoped resources.
func (s *WebPdfListSource) Close() error { return nil }

// Heavy reports that this source does blocking network I/O plus yields
// PDF-sniffable bytes, one of the two signals the plan builder's
// auto executor-kind rule looks for.
func (s *WebPdfListSource) Heavy() bool { return true }

var pdfLeadMagic = []byte("%PDF-")

func looksLikePDF(data []byte) bool {
	return len(data) >= 5 && string(data[:5]) == string(pdfLeadMagic)
}

// Iter downloads each URL in order, skipping fetch errors and (when
// RequirePDF is set) responses that don't sniff as a PDF.
func (s *WebPdfListSource) Iter(yield func(FileItem) bool) error {
	used := map[string]bool{}
	for _, u := range s.urls {
		resp, data, err := s.client.Get(context.Background(), u)
		if err != nil {
			s.logger.Warn("webpdf fetch failed", "url", u, "error", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		if s.requirePDF && !looksLikePDF(data) {
			continue
		}

		name := filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
		if name == "" {
			name = nameFromURL(u)
		}
		name = sanitizeName(name)
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			name += ".pdf"
		}
		name = dedupeName(name, used)
		used[name] = true
		if s.addPrefix != "" {
			name = s.addPrefix + "/" + name
		}

		if !yield(FileItem{Path: name, Data: data, Size: len(data)}) {
			return nil
		}
	}
	return nil
}

var cdispFilenameStarRe = regexp.MustCompile(`(?i)filename\*\s*=\s*([^;]+)`)
var cdispFilenameRe = regexp.MustCompile(`(?i)filename\s*=\s*([^;]+)`)

// filenameFromContentDisposition extracts a filename from a
// Content-Disposition header value, preferring the RFC 5987/6266
// filename* form over the plain filename form.
func filenameFromContentDisposition(hval string) string {
	if hval == "" {
		return ""
	}
	if m := cdispFilenameStarRe.FindStringSubmatch(hval); m != nil {
		val := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		if idx := strings.Index(val, "''"); idx >= 0 {
			enc := val[:idx]
			rest := val[idx+2:]
			if decoded, err := url.QueryUnescape(rest); err == nil {
				_ = enc
				return decoded
			}
			return rest
		}
		return val
	}
	if _, params, err := mime.ParseMediaType(hval); err == nil {
		if fn, ok := params["filename"]; ok {
			return fn
		}
	}
	if m := cdispFilenameRe.FindStringSubmatch(hval); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	return ""
}

func nameFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "document.pdf"
	}
	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		return "document.pdf"
	}
	return base
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._+-]`)

// sanitizeName reduces name to a conservative basename character set.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	base := parts[len(parts)-1]
	if decoded, err := url.QueryUnescape(base); err == nil {
		base = decoded
	}
	base = unsafeNameRe.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == ".." {
		base = "document.pdf"
	}
	return base
}

func dedupeName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	stem, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		stem, ext = name[:idx], name[idx:]
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s__%d%s", stem, n, ext)
		if !used[candidate] {
			return candidate
		}
	}
}

// WebPagePdfOptions configures a WebPagePdfSource.
type WebPagePdfOptions struct {
	PageURL          string
	Client           *httpsafe.Client
	SameDomain       bool
	MaxLinks         int
	MatchRegex       string
	IncludeAmbiguous bool
	RequirePDF       bool
	AddPrefix        string
	Context          *RepoContext
	Logger           *slog.Logger
}

// WebPagePdfSource scrapes one HTML page for PDF-looking links, then
// delegates the actual downloads to a WebPdfListSource.
type WebPagePdfSource struct {
	opts  WebPagePdfOptions
	match *regexp.Regexp
}

// NewWebPagePdfSource returns a Source scraping opts.PageURL.
func NewWebPagePdfSource(opts WebPagePdfOptions) (*WebPagePdfSource, error) {
	var re *regexp.Regexp
	if opts.MatchRegex != "" {
		compiled, err := regexp.Compile(opts.MatchRegex)
		if err != nil {
			return nil, fmt.Errorf("sources: compiling match_regex: %w", err)
		}
		re = compiled
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = 200
	}
	if opts.Client == nil {
		opts.Client = httpsafe.New(httpsafe.DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WebPagePdfSource{opts: opts, match: re}, nil
}

// Context returns the repo provenance attached at construction.
func (s *WebPagePdfSource) Context() *RepoContext { return s.opts.Context }

// Close is a no-op; WebPagePdfSource holds no scoped resources.
func (s *WebPagePdfSource) Close() error { return nil }

// Heavy reports that this source does blocking network I/O plus yields
// PDF-sniffable bytes, one of the two signals the plan builder's
// auto executor-kind rule looks for.
func (s *WebPagePdfSource) Heavy() bool { return true }

// Iter fetches the page, discovers candidate PDF links, and streams
// the downloads through an inner WebPdfListSource.
func (s *WebPagePdfSource) Iter(yield func(FileItem) bool) error {
	_, body, err := s.opts.Client.Get(context.Background(), s.opts.PageURL)
	if err != nil {
		s.opts.Logger.Warn("webpage pdf scrape fetch failed", "url", s.opts.PageURL, "error", err)
		return nil
	}

	urls, err := s.discoverPDFLinks(string(body))
	if err != nil || len(urls) == 0 {
		return nil
	}

	inner := NewWebPdfListSource(WebPdfListOptions{
		URLs:       urls,
		Client:     s.opts.Client,
		RequirePDF: s.opts.RequirePDF,
		AddPrefix:  s.opts.AddPrefix,
		Logger:     s.opts.Logger,
	})
	return inner.Iter(yield)
}

func (s *WebPagePdfSource) discoverPDFLinks(body string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	pageURL, err := url.Parse(s.opts.PageURL)
	if err != nil {
		return nil, err
	}

	var baseHref string
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "base":
				if baseHref == "" {
					if v := attr(n, "href"); v != "" {
						baseHref = v
					}
				}
			case "a", "area", "link":
				if v := attr(n, "href"); v != "" {
					hrefs = append(hrefs, v)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	base := pageURL
	if baseHref != "" {
		if resolved, err := pageURL.Parse(baseHref); err == nil {
			base = resolved
		}
	}

	var out []string
	seen := map[string]bool{}
	for _, href := range hrefs {
		abs, err := base.Parse(href)
		if err != nil {
			continue
		}
		if s.opts.SameDomain && abs.Host != pageURL.Host {
			continue
		}
		if s.match != nil && !s.match.MatchString(abs.String()) {
			continue
		}
		looksPDF := strings.HasSuffix(strings.ToLower(abs.Path), ".pdf")
		if !looksPDF && !s.opts.IncludeAmbiguous {
			continue
		}
		key := abs.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
		if len(out) >= s.opts.MaxLinks {
			break
		}
	}
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
