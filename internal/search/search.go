// Package search researches technologies on the web.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Result is one search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Searcher runs a web query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, limit int) ([]Result, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	return f(ctx, query, limit)
}

// Options configures a DuckDuckGo searcher.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DuckDuckGo scrapes the HTML endpoint of DuckDuckGo.
type DuckDuckGo struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
}

// NewDuckDuckGo creates a searcher. Zero options fall back to the public
// endpoint and a 10s request timeout.
func NewDuckDuckGo(opts Options) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    opts.HTTPClient,
		logger:    opts.Logger,
	}
	if d.baseURL == "" {
		d.baseURL = "https://html.duckduckgo.com/html/"
	}
	if d.userAgent == "" {
		d.userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Search returns at most limit results for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("b", "")
	params.Set("kl", "us-en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status %s", query, resp.Status)
	}

	results, err := Parse(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	d.logger.Debug("Search completed.", "query", query, "results", len(results))
	return results, nil
}

// Parse extracts results from a DuckDuckGo HTML page. Result blocks
// without both a title link and a snippet are skipped.
func Parse(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var results []Result
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if limit > 0 && len(results) >= limit {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if res, ok := parseResult(n); ok {
				results = append(results, res)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results, nil
}

func parseResult(n *html.Node) (Result, bool) {
	title := findAnchor(n, "result__a")
	snippet := findAnchor(n, "result__snippet")
	if title == nil || snippet == nil {
		return Result{}, false
	}
	return Result{
		Title:   textContent(title),
		Snippet: textContent(snippet),
		URL:     resolveLink(attr(title, "href")),
	}, true
}

func findAnchor(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAnchor(c, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// resolveLink unwraps DuckDuckGo redirect links to the target URL.
func resolveLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// Format renders results as the plain-text block handed to the writer
// prompt.
func Format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for '%s':\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "   %s\n", r.Snippet)
		if r.URL != "" {
			fmt.Fprintf(&b, "   URL: %s\n", r.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Queries returns the searches run for one technology.
func Queries(technology string) []string {
	return []string{
		technology + " latest version 2024 2025",
		technology + " recent updates features",
		"what is " + technology + " programming language framework",
	}
}

// ErrNoResearch is returned when every query for a technology failed.
var ErrNoResearch = errors.New("search: every query failed")

// ResearchTechnology runs Queries(technology) one after another, waiting
// delay between them, and combines the formatted results. A failed query
// is reported inline; the call fails only when all of them failed or ctx
// ended.
func ResearchTechnology(ctx context.Context, s Searcher, technology string, limit int, delay time.Duration) (string, error) {
	queries := Queries(technology)
	blocks := make([]string, 0, len(queries))
	failed := 0
	var lastErr error

	for i, q := range queries {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		results, err := s.Search(ctx, q, limit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			failed++
			lastErr = err
			blocks = append(blocks, fmt.Sprintf("Search error for '%s': %v\n", q, err))
			continue
		}
		blocks = append(blocks, Format(q, results))
	}

	if failed == len(queries) {
		return "", fmt.Errorf("%w for %s: %w", ErrNoResearch, technology, lastErr)
	}
	return fmt.Sprintf("Research results for %s:\n\n%s", technology, strings.Join(blocks, "\n")), nil
}
