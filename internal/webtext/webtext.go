// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package webtext fetches web pages and reduces them to readable text.
package webtext

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/report-engine/internal/httputil"
)

// DefaultMaxBytes caps how much of a response body is read.
const DefaultMaxBytes int64 = 2 << 20

var spaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

// Page is a fetched document reduced to text.
type Page struct {
	URL        string
	StatusCode int
	Title      string
	Text       string
}

// Fetcher retrieves pages over HTTP.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// Fetch GETs url and returns its visible text. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, 2)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	page := &Page{URL: url, StatusCode: resp.StatusCode}
	if isHTML(resp.Header.Get("Content-Type"), body) {
		title, text, err := HTMLToText(string(body))
		if err != nil {
			return nil, err
		}
		page.Title, page.Text = title, text
	} else {
		page.Text = normalize(string(body))
	}
	return page, nil
}

func isHTML(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt == "text/html" || mt == "application/xhtml+xml"
	}
	return strings.Contains(strings.ToLower(http.DetectContentType(body)), "html")
}

// HTMLToText extracts the title and visible text from an HTML document.
// Scripts, styles and navigation chrome are dropped.
func HTMLToText(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parsing HTML: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template, svg, nav, footer, header").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Nested block elements would otherwise be emitted twice.
		if s.Find("p, li, td, th, pre, blockquote").Length() > 0 {
			return
		}
		if line := strings.TrimSpace(s.Text()); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	})
	text = b.String()
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}
	return title, normalize(text), nil
}

func normalize(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Clip shortens s to at most n bytes without splitting a UTF-8 sequence.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
