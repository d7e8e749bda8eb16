// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/report-engine/internal/httputil"
	"github.com/pdiddy/report-engine/internal/webtext"
)

// HTTPProber checks URL reachability with HEAD, falling back to GET for
// servers that refuse HEAD.
type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

// Probe succeeds when the URL answers with a status below 400.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	code, err := p.status(ctx, http.MethodHead, url)
	if err == nil && code < 400 {
		return nil
	}
	code, err = p.status(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	if code >= 400 {
		return fmt.Errorf("HTTP %d", code)
	}
	return nil
}

func (p *HTTPProber) status(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, 2)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// PageFetcher adapts a webtext.Fetcher to ContentFetcher. Pages with no
// readable text count as failed fetches.
type PageFetcher struct {
	Fetcher *webtext.Fetcher
}

// Fetch returns the page text.
func (f *PageFetcher) Fetch(ctx context.Context, url string) (string, error) {
	page, err := f.Fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(page.Text) == "" {
		return "", fmt.Errorf("no readable text at %s", url)
	}
	return page.Text, nil
}
