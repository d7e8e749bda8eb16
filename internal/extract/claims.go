// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns a draft into the claim set the verification engine
// checks. The extraction agent submits claims through a tool; this package
// validates them, resolves numbered citations against the draft's
// references, and assigns stable IDs.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// SubmitToolName is the tool the extraction agent calls with its claims.
const SubmitToolName = "submit_claims"

// Submission is one claim as proposed by the extraction agent.
type Submission struct {
	Text string `json:"text"`

	// CitationURL is a URL or a reference label such as "3" or "[3]".
	CitationURL string `json:"citation_url"`

	SupportingSourceRef string `json:"supporting_source_ref,omitempty"`
}

// BuildClaimSet validates submissions against the draft and converts them
// to claims. Claims whose citation cannot be resolved are kept with an empty
// URL; they will fail verification rather than vanish from the rate.
// Duplicates (same ID) are dropped.
func BuildClaimSet(draftRef, draft string, subs []Submission) (types.ClaimSet, []string) {
	refs := ParseReferences(draft)
	set := types.ClaimSet{DraftRef: draftRef}
	seen := make(map[string]bool)
	var problems []string

	for i, s := range subs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			problems = append(problems, fmt.Sprintf("claim %d: empty text", i))
			continue
		}

		u := ResolveURL(s.CitationURL, refs)
		if u == "" {
			u = firstCitedURL(text, refs)
		}
		if u != "" && !validURL(u) {
			problems = append(problems, fmt.Sprintf("claim %d: unsupported citation URL %q", i, u))
			u = ""
		}

		c := types.Claim{
			ID:                  stableID(draftRef, text, u),
			Text:                text,
			CitationURL:         u,
			SupportingSourceRef: path.Base(strings.TrimSpace(s.SupportingSourceRef)),
		}
		if c.SupportingSourceRef == "." {
			c.SupportingSourceRef = ""
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		set.Claims = append(set.Claims, c)
	}
	return set, problems
}

// firstCitedURL returns the URL of the first citation inside text.
func firstCitedURL(text string, refs []types.Reference) string {
	for _, c := range LinkCitations(ParseCitations(text), refs) {
		if c.URL != "" {
			return c.URL
		}
	}
	return ""
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// stableID is the first 12 hex characters of SHA-256(draftRef + text + url).
func stableID(draftRef, text, citationURL string) string {
	h := sha256.New()
	h.Write([]byte(draftRef))
	h.Write([]byte(text))
	h.Write([]byte(citationURL))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// SubmitTool returns the submit_claims tool for one draft. Claims accumulate
// across calls and the full set is passed to save after every call.
func SubmitTool(draftRef, draft string, save func(types.ClaimSet) error) agent.Tool {
	var (
		mu  sync.Mutex
		all []Submission
	)
	claimSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":                  agent.StringProp("the factual claim as stated in the draft"),
			"citation_url":          agent.StringProp("the cited URL, or the reference number such as 3"),
			"supporting_source_ref": agent.StringProp("research source file the claim came from, e.g. source_2.md"),
		},
		"required": []string{"text", "citation_url"},
	}

	return agent.Tool{
		Name:        SubmitToolName,
		Description: "Submit factual claims extracted from the draft. May be called more than once; claims accumulate. Submit an empty list when the draft makes no checkable claims.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"claims": map[string]any{"type": "array", "items": claimSchema},
			},
			"required": []string{"claims"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Claims []Submission `json:"claims"`
			}
			if err := agent.DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			if len(args.Claims) == 0 {
				mu.Lock()
				defer mu.Unlock()
				set, _ := BuildClaimSet(draftRef, draft, all)
				if err := save(set); err != nil {
					return "", fmt.Errorf("saving claims: %w", err)
				}
				return fmt.Sprintf("recorded %d claims", len(set.Claims)), nil
			}

			fresh, problems := BuildClaimSet(draftRef, draft, args.Claims)
			if len(fresh.Claims) == 0 {
				return "", fmt.Errorf("no valid claims: %s", strings.Join(problems, "; "))
			}

			mu.Lock()
			defer mu.Unlock()
			candidate := append(append([]Submission(nil), all...), args.Claims...)
			set, _ := BuildClaimSet(draftRef, draft, candidate)
			if err := save(set); err != nil {
				return "", fmt.Errorf("saving claims: %w", err)
			}
			all = candidate

			msg := fmt.Sprintf("recorded %d claims", len(set.Claims))
			if len(problems) > 0 {
				msg += "; problems: " + strings.Join(problems, "; ")
			}
			return msg, nil
		},
	}
}

// Save writes a claim set as YAML.
func Save(store *workspace.Store, sessionID, rel string, set types.ClaimSet) error {
	return store.WriteYAML(sessionID, rel, set)
}

// Load reads a claim set written by Save.
func Load(store *workspace.Store, sessionID, rel string) (types.ClaimSet, error) {
	var set types.ClaimSet
	if err := store.ReadYAML(sessionID, rel, &set); err != nil {
		return types.ClaimSet{}, fmt.Errorf("loading claims %s: %w", rel, err)
	}
	return set, nil
}
