// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package webtext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html><head><title> Stellar DeFi Yields </title>
<style>body { color: red }</style>
<script>var tracking = "ignore me";</script></head>
<body>
<nav><a href="/">Home</a></nav>
<h1>Soroban lending</h1>
<p>Blend pools paid   7.2% APY on USDC in Q1 2025.</p>
<ul><li>Aquarius AMM rewards</li><li>Phoenix DEX</li></ul>
<footer>Copyright</footer>
</body></html>`

func TestHTMLToText(t *testing.T) {
	title, text, err := HTMLToText(samplePage)
	require.NoError(t, err)

	assert.Equal(t, "Stellar DeFi Yields", title)
	assert.Contains(t, text, "Soroban lending")
	assert.Contains(t, text, "Blend pools paid 7.2% APY on USDC in Q1 2025.")
	assert.Contains(t, text, "Aquarius AMM rewards")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "Home")
}

func TestFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "report-engine-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("line one\n\n\n\nline    two\n"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := &Fetcher{Client: ts.Client(), UserAgent: "report-engine-test"}

	page, err := f.Fetch(context.Background(), ts.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Stellar DeFi Yields", page.Title)
	assert.Contains(t, page.Text, "7.2% APY")

	page, err = f.Fetch(context.Background(), ts.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", page.Text)

	_, err = f.Fetch(context.Background(), ts.URL+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 410")
}

func TestFetchHonorsMaxBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer ts.Close()

	f := &Fetcher{Client: ts.Client(), MaxBytes: 10}
	page, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Len(t, page.Text, 10)
}

func TestClipKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "yield", 10, "yield"},
		{"ascii", "stablecoin", 6, "stable"},
		{"inside two-byte rune", "Zürich", 2, "Z"},
		{"after two-byte rune", "Zürich", 3, "Zü"},
		{"inside four-byte rune", "APY 📈 up", 6, "APY "},
		{"zero", "yield", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clip(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
