// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/pkg/types"
)

// maxJudgeContent caps the page text placed in the judge prompt.
const maxJudgeContent = 24_000

var judgePromptTmpl = template.Must(template.New("judge").Parse(`You are a fact-checker. Decide whether the source text below supports the claim.

A claim is supported only if the source states it or directly implies it. Figures, dates and names must match. Do not use outside knowledge.

Respond with a JSON object and nothing else:
{"supported": true or false, "reason": "one sentence"}

Claim:
{{.Claim}}

Source ({{.URL}}):
{{.Content}}
`))

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// LLMJudge asks a language model whether content supports a claim.
type LLMJudge struct {
	Model      llms.Model
	MaxRetries int
}

// Supports implements Judge. Model errors and unparseable answers are
// retried with exponential backoff.
func (j *LLMJudge) Supports(ctx context.Context, claim types.Claim, content string) (Verdict, error) {
	content = webtext.Clip(content, maxJudgeContent)
	var buf bytes.Buffer
	err := judgePromptTmpl.Execute(&buf, struct {
		Claim, URL, Content string
	}{claim.Text, claim.CitationURL, content})
	if err != nil {
		return Verdict{}, fmt.Errorf("rendering prompt: %w", err)
	}

	maxRetries := j.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return callWithRetry(ctx, maxRetries, func() (Verdict, error) {
		out, err := llms.GenerateFromSinglePrompt(ctx, j.Model, buf.String(), llms.WithTemperature(0))
		if err != nil {
			return Verdict{}, err
		}
		return parseVerdict(out)
	})
}

func callWithRetry(ctx context.Context, maxRetries int, call func() (Verdict, error)) (Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return Verdict{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		v, err := call()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return Verdict{}, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.+?)\\n```")

// parseVerdict reads the judge's JSON answer, tolerating a fenced code block
// or prose around the object.
func parseVerdict(out string) (Verdict, error) {
	candidate := strings.TrimSpace(out)
	if m := codeBlockRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else if obj := firstObject(candidate); obj != "" {
		candidate = obj
	}

	var raw struct {
		Supported *bool  `json:"supported"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return Verdict{}, fmt.Errorf("parsing judge answer: %w", err)
	}
	if raw.Supported == nil {
		return Verdict{}, fmt.Errorf("judge answer missing \"supported\"")
	}
	return Verdict{Supported: *raw.Supported, Reason: raw.Reason}, nil
}

// firstObject returns the first balanced {...} in s, skipping braces inside
// JSON strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
