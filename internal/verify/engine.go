// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify checks extracted claims against the pages they cite. Each
// claim passes through three ordered layers: the cited URL must answer, its
// content must be fetchable, and an LLM judge must find the claim supported
// by that content. A failing layer stops the claim; it never aborts the run.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Prober checks that a URL answers with a non-error status.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ContentFetcher returns the readable text of a page.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Verdict is the judge's decision for one claim.
type Verdict struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason"`
}

// Judge decides whether content supports a claim.
type Judge interface {
	Supports(ctx context.Context, claim types.Claim, content string) (Verdict, error)
}

// Engine runs the three verification layers over a claim set with bounded
// concurrency.
type Engine struct {
	prober      Prober
	fetcher     ContentFetcher
	judge       Judge
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of claims checked at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRateLimit paces outbound probe and fetch requests. Zero disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		burst := max(int(perSecond), 1)
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an engine from its three layers.
func NewEngine(p Prober, f ContentFetcher, j Judge, opts ...Option) *Engine {
	e := &Engine{
		prober:      p,
		fetcher:     f,
		judge:       j,
		concurrency: 4,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify checks every claim in set and summarizes the results against
// threshold. Results keep claim order. The only error is cancellation of ctx.
func (e *Engine) Verify(ctx context.Context, set types.ClaimSet, threshold float64) (types.VerificationReport, error) {
	report := types.VerificationReport{
		DraftRef: set.DraftRef,
		Results:  make([]types.ClaimResult, len(set.Claims)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range set.Claims {
		g.Go(func() error {
			report.Results[i] = e.check(gctx, c)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return types.VerificationReport{}, fmt.Errorf("verifying %s: %w", set.DraftRef, err)
	}

	report.Summarize(threshold)
	e.logger.Info("verification finished",
		"draft", set.DraftRef,
		"claims", report.TotalClaims,
		"verified", report.VerifiedClaims,
		"rate", report.VerificationRate,
		"threshold_met", report.ThresholdMet)
	return report, nil
}

// check runs the layers for one claim, stopping at the first failure.
func (e *Engine) check(ctx context.Context, c types.Claim) types.ClaimResult {
	res := types.ClaimResult{ClaimID: c.ID}
	if c.CitationURL == "" {
		res.Reason = "no citation URL"
		return res
	}

	if err := e.wait(ctx); err != nil {
		res.Reason = err.Error()
		return res
	}
	if err := e.prober.Probe(ctx, c.CitationURL); err != nil {
		res.Reason = "url: " + err.Error()
		e.logger.Debug("claim failed probe", "claim", c.ID, "url", c.CitationURL, "error", err)
		return res
	}
	res.Layer1URLOK = true

	if err := e.wait(ctx); err != nil {
		res.Reason = err.Error()
		return res
	}
	content, err := e.fetcher.Fetch(ctx, c.CitationURL)
	if err != nil {
		res.Reason = "content: " + err.Error()
		e.logger.Debug("claim failed fetch", "claim", c.ID, "url", c.CitationURL, "error", err)
		return res
	}
	res.Layer2ContentFetched = true

	v, err := e.judge.Supports(ctx, c, content)
	if err != nil {
		res.Reason = "judge: " + err.Error()
		return res
	}
	if !v.Supported {
		res.Reason = "unsupported: " + v.Reason
		return res
	}
	res.Layer3ClaimSupported = true
	res.Verified = true
	res.Reason = v.Reason
	return res
}

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}
