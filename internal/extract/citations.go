// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"regexp"
	"strings"

	"github.com/pdiddy/report-engine/pkg/types"
)

var (
	// numericCiteRe matches numeric citations like [1], [2], [12].
	numericCiteRe = regexp.MustCompile(`\[(\d+)\]`)

	// linkCiteRe matches inline Markdown links like [Blend docs](https://...).
	linkCiteRe = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)

	// refEntryRe matches numbered reference entries like
	// "[1] Title. https://..." or "1. [Title](https://...)".
	refEntryRe = regexp.MustCompile(`(?m)^\s*(?:[-*]\s*)?(?:\[(\d+)\]|(\d+)\.)\s+(.+)$`)

	urlRe = regexp.MustCompile(`https?://[^\s<>\])"']+`)

	// bareKeyRe matches a citation URL given as a reference label: "3" or "[3]".
	bareKeyRe = regexp.MustCompile(`^\[?(\d+)\]?$`)
)

// ParseCitations scans text for inline citations. Numeric citations are
// returned without a URL until linked; Markdown links carry their own.
func ParseCitations(text string) []types.Citation {
	seen := make(map[string]bool)
	var citations []types.Citation

	for _, m := range linkCiteRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		if seen[full] {
			continue
		}
		seen[full] = true
		citations = append(citations, types.Citation{
			Key:     text[m[2]:m[3]],
			URL:     text[m[4]:m[5]],
			Context: extractContext(text, m[0], m[1]),
		})
	}

	body := text
	if i := referencesStart(text); i >= 0 {
		body = text[:i]
	}
	for _, m := range numericCiteRe.FindAllStringSubmatchIndex(body, -1) {
		full := body[m[0]:m[1]]
		if seen[full] {
			continue
		}
		// [1](https://...) is a link, not a numeric citation.
		if m[1] < len(body) && body[m[1]] == '(' {
			continue
		}
		seen[full] = true
		citations = append(citations, types.Citation{
			Key:     body[m[2]:m[3]],
			Context: extractContext(body, m[0], m[1]),
		})
	}
	return citations
}

// extractContext returns up to 40 characters either side of a match,
// trimmed to word boundaries.
func extractContext(text string, start, end int) string {
	const window = 40
	ctxStart := max(start-window, 0)
	ctxEnd := min(end+window, len(text))
	snippet := text[ctxStart:ctxEnd]
	if ctxStart > 0 {
		if i := strings.IndexByte(snippet, ' '); i >= 0 && i < window {
			snippet = snippet[i+1:]
		}
	}
	if ctxEnd < len(text) {
		if i := strings.LastIndexByte(snippet, ' '); i >= 0 && i > len(snippet)-window {
			snippet = snippet[:i]
		}
	}
	return strings.TrimSpace(snippet)
}

// ParseReferences extracts numbered entries from the References, Sources or
// Bibliography section of a Markdown draft. Entries without a URL are kept
// so that a missing link shows up as an unverifiable claim, not a dropped one.
func ParseReferences(content string) []types.Reference {
	section := findReferencesSection(content)
	if section == "" {
		return nil
	}

	var refs []types.Reference
	for _, m := range refEntryRe.FindAllStringSubmatch(section, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		refs = append(refs, parseReference(key, strings.TrimSpace(m[3])))
	}
	return refs
}

func parseReference(key, raw string) types.Reference {
	ref := types.Reference{Key: key}
	if m := linkCiteRe.FindStringSubmatch(raw); m != nil {
		ref.Title = strings.TrimSpace(m[1])
		ref.URL = m[2]
		return ref
	}
	loc := urlRe.FindStringIndex(raw)
	if loc == nil {
		ref.Title = strings.TrimRight(raw, ". ")
		return ref
	}
	ref.URL = trimURL(raw[loc[0]:loc[1]])
	ref.Title = strings.TrimRight(strings.TrimSpace(raw[:loc[0]]), ".:- ")
	return ref
}

// trimURL drops sentence punctuation that the URL pattern swallows.
func trimURL(u string) string {
	return strings.TrimRight(u, ".,;:")
}

func referencesStart(content string) int {
	offset := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		if isReferencesHeading(strings.TrimSpace(line)) {
			return offset
		}
		offset += len(line)
	}
	return -1
}

func isReferencesHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "#")))
	for _, word := range []string{"references", "sources", "bibliography", "citations"} {
		if strings.Contains(heading, word) {
			return true
		}
	}
	return false
}

// findReferencesSection returns the text under the references heading up to
// the next heading.
func findReferencesSection(content string) string {
	var collecting bool
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if isReferencesHeading(trimmed) {
				collecting = true
				continue
			}
			if collecting {
				break
			}
		}
		if collecting {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// LinkCitations fills in the URL of numeric citations from refs.
func LinkCitations(citations []types.Citation, refs []types.Reference) []types.Citation {
	if len(refs) == 0 {
		return citations
	}
	byKey := make(map[string]string, len(refs))
	for _, r := range refs {
		byKey[r.Key] = r.URL
	}

	linked := make([]types.Citation, len(citations))
	copy(linked, citations)
	for i := range linked {
		if linked[i].URL != "" {
			continue
		}
		linked[i].URL = byKey[linked[i].Key]
	}
	return linked
}

// ResolveURL turns a citation given as a reference label ("3" or "[3]") into
// the referenced URL. Anything else is returned trimmed.
func ResolveURL(raw string, refs []types.Reference) string {
	raw = strings.TrimSpace(raw)
	m := bareKeyRe.FindStringSubmatch(raw)
	if m == nil {
		return trimURL(raw)
	}
	for _, r := range refs {
		if r.Key == m[1] {
			return r.URL
		}
	}
	return ""
}
