// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the fixed linear sequence: research, draft, extract,
// verify, the quality-convergence loop, and style. The cumulative run result
// is persisted after every stage so a partial run stays inspectable.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/convergence"
	"github.com/pdiddy/report-engine/internal/research"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

const tracerName = "github.com/pdiddy/report-engine/internal/pipeline"

// Verifier checks a claim set. *verify.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, set types.ClaimSet, threshold float64) (types.VerificationReport, error)
}

// Indexer records sessions and verification results outside the workspace.
// *catalog.Store implements it.
type Indexer interface {
	RecordSession(ctx context.Context, sess types.Session) error
	Record(ctx context.Context, sessionID string, set types.ClaimSet, report types.VerificationReport) error
}

// Controller runs linear pipeline sessions.
type Controller struct {
	cfg      types.PipelineConfig
	store    *workspace.Store
	exec     agent.Executor
	verifier Verifier
	index    Indexer

	tracer   trace.Tracer
	logger   *slog.Logger
	progress io.Writer
	now      func() time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithIndexer records every verification report in idx. Index failures are
// logged and do not fail the run.
func WithIndexer(idx Indexer) Option {
	return func(c *Controller) { c.index = idx }
}

// WithTracerProvider sets the provider stage spans are created from. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) { c.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithProgress writes one line per stage transition to w.
func WithProgress(w io.Writer) Option {
	return func(c *Controller) { c.progress = w }
}

// New validates cfg and builds a Controller.
func New(cfg types.PipelineConfig, store *workspace.Store, exec agent.Executor, verifier Verifier, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:      cfg,
		store:    store,
		exec:     exec,
		verifier: verifier,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		progress: io.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the full pipeline for topic and returns the run result. It
// never returns without a result: failures are recorded in it with
// success=false, and everything completed before the failure stays on disk.
func (c *Controller) Run(ctx context.Context, topic string, style types.StyleGuide) types.RunResult {
	res := types.RunResult{Topic: topic, Outcome: types.OutcomeFailed}

	if style == "" {
		style = types.StyleTechnical
	}
	if err := validateInput(topic, style); err != nil {
		res.Error = err.Error()
		c.logger.Error("pipeline rejected", "error", err)
		return res
	}

	sess := c.store.NewSession(topic, types.ModeLinear, c.cfg.SessionConfig(style))
	if err := c.store.Create(ctx, sess); err != nil {
		res.Error = fmt.Sprintf("creating session: %v", err)
		c.logger.Error("pipeline rejected", "error", err)
		return res
	}
	res.SessionID = sess.ID

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("pipeline.style", string(style)),
		attribute.Int("pipeline.num_researchers", c.cfg.Research.NumResearchers),
	))
	defer span.End()

	if c.index != nil {
		if err := c.index.RecordSession(ctx, sess); err != nil {
			c.logger.Warn("indexing session failed", "session", sess.ID, "error", err)
		}
	}
	c.logger.Info("pipeline started", "session", sess.ID, "topic", topic, "style", string(style))
	c.store.AppendLog(sess.ID, workspace.LevelInfo, fmt.Sprintf("pipeline started: topic=%q style=%s", topic, style))

	r := &run{
		Controller: c,
		sess:       sess,
		style:      style,
		res:        &res,
		runner:     stage.NewRunner(c.exec, c.store, c.logger),
		draft:      DraftFile,
	}
	err := r.execute(ctx)
	r.finish(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("pipeline.outcome", string(res.Outcome)),
		attribute.Float64("pipeline.verification_rate", res.FinalVerificationRate),
		attribute.Int("pipeline.revisions", res.RevisionIterationsUsed),
	)
	return res
}

func validateInput(topic string, style types.StyleGuide) error {
	if err := types.ValidateTopic(topic); err != nil {
		return err
	}
	_, err := types.ParseStyleGuide(string(style))
	return err
}

// run carries the state of one pipeline execution.
type run struct {
	*Controller
	sess   types.Session
	style  types.StyleGuide
	res    *types.RunResult
	runner *stage.Runner

	// draft and verification are the newest draft and its report.
	draft        string
	verification string
	current      string
	revisions    int
}

func (r *run) execute(ctx context.Context) error {
	id := r.sess.ID
	topic := r.sess.Topic

	var sources []string
	err := r.stage(ctx, stage.NameResearch, func(ctx context.Context, sr *types.StageResult) error {
		out, err := research.NewCoordinator(r.exec, r.store, r.logger).
			Run(ctx, id, workspace.DirResearch, topic, r.cfg.Research.NumResearchers, "")
		sources = out.Sources
		r.res.NumSources = out.NumSources()
		sr.Artifacts = out.Sources
		sr.Details = map[string]any{
			"requested":   out.Requested,
			"num_sources": out.NumSources(),
		}
		if len(out.Failures) > 0 {
			failed := make([]string, len(out.Failures))
			for i, f := range out.Failures {
				failed[i] = fmt.Sprintf("worker %d: %s", f.Worker, f.Error)
			}
			sr.Details["failures"] = failed
		}
		return err
	})
	if err != nil {
		return err
	}

	err = r.stage(ctx, stage.NameDraft, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{DraftFile}
		return r.runner.Run(ctx, id, stage.Draft(stage.DraftInput{Topic: topic, Sources: sources, Output: DraftFile}))
	})
	if err != nil {
		return err
	}

	err = r.stage(ctx, stage.NameExtract, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{ClaimsFile}
		return r.extract(ctx, stage.NameExtract, DraftFile, ClaimsFile)
	})
	if err != nil {
		return err
	}

	var initial types.VerificationReport
	err = r.stage(ctx, stage.NameVerify, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{VerificationFile}
		rep, err := r.verify(ctx, ClaimsFile, VerificationFile)
		initial = rep
		sr.Details = reportDetails(rep)
		return err
	})
	if err != nil {
		return err
	}
	r.verification = VerificationFile

	loop := &convergence.Loop{
		Threshold:     r.cfg.Quality.VerificationThreshold,
		MaxIterations: r.cfg.Quality.MaxRevisionIterations,
		Logger:        r.logger,
	}
	out, err := loop.Run(ctx, initial, loopSteps{r})
	r.res.RevisionIterationsUsed = r.revisions
	if err != nil {
		return err
	}

	best := out.History[out.BestIteration]
	r.res.FinalVerificationRate = best.Rate
	r.res.ThresholdMet = best.ThresholdMet
	if out.State == convergence.StateExhausted {
		r.store.AppendLog(id, workspace.LevelWarn, fmt.Sprintf(
			"quality loop exhausted after %d revisions; best rate %.2f below threshold %.2f",
			out.Iterations, best.Rate, r.cfg.Quality.VerificationThreshold))
	}

	styleInput := DraftFile
	if out.BestIteration > 0 {
		styleInput = RevisedDraftFile(out.BestIteration)
	}
	return r.stage(ctx, stage.NameStyle, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{ReportFile}
		sr.Details = map[string]any{"input": styleInput, "style": string(r.style)}
		if err := r.runner.Run(ctx, id, stage.Style(stage.StyleInput{
			Topic: topic, Draft: styleInput, Style: r.style, Output: ReportFile,
		})); err != nil {
			return err
		}
		r.res.FinalReportRef = ReportFile
		return nil
	})
}

// stage runs fn inside a span, records its StageResult and persists the
// run result.
func (r *run) stage(ctx context.Context, name string, fn func(ctx context.Context, sr *types.StageResult) error) error {
	ctx, span := r.tracer.Start(ctx, "stage."+name, trace.WithAttributes(attribute.String("session.id", r.sess.ID)))
	defer span.End()

	r.current = name
	if err := r.store.UpdateStatus(r.sess.ID, types.StatusRunning, name); err != nil {
		r.logger.Warn("updating status failed", "session", r.sess.ID, "error", err)
	}
	fmt.Fprintf(r.progress, "[%s] started\n", name)

	sr := types.StageResult{Stage: name, StartedAt: r.now().UTC()}
	err := fn(ctx, &sr)
	sr.FinishedAt = r.now().UTC()

	if err != nil {
		sr.Status = types.StageFailed
		sr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fmt.Fprintf(r.progress, "[%s] failed: %v\n", name, err)
	} else {
		sr.Status = types.StageCompleted
		span.SetStatus(codes.Ok, "")
		fmt.Fprintf(r.progress, "[%s] completed in %s\n", name, sr.FinishedAt.Sub(sr.StartedAt).Round(time.Millisecond))
	}
	span.SetAttributes(attribute.StringSlice("stage.artifacts", sr.Artifacts))

	r.res.Stages = append(r.res.Stages, sr)
	r.persist()
	return err
}

// finish settles the outcome, status and persisted result.
func (r *run) finish(err error) {
	id := r.sess.ID
	if err != nil {
		r.res.Success = false
		r.res.Outcome = types.OutcomeFailed
		r.res.Error = err.Error()
		if uerr := r.store.UpdateStatus(id, types.StatusFailed, r.current); uerr != nil {
			r.logger.Warn("updating status failed", "session", id, "error", uerr)
		}
		r.store.AppendLog(id, workspace.LevelError, fmt.Sprintf("pipeline failed in %s: %v", r.current, err))
		r.logger.Error("pipeline failed", "session", id, "stage", r.current, "error", err)
		r.persist()
		return
	}

	r.res.Success = true
	r.res.Outcome = types.OutcomeSuccess
	if !r.res.ThresholdMet || r.res.NumSources < r.cfg.Research.NumResearchers {
		r.res.Outcome = types.OutcomeDegraded
	}
	if uerr := r.store.UpdateStatus(id, types.StatusCompleted, ""); uerr != nil {
		r.logger.Warn("updating status failed", "session", id, "error", uerr)
	}
	r.store.AppendLog(id, workspace.LevelInfo, fmt.Sprintf(
		"pipeline completed: outcome=%s rate=%.2f revisions=%d sources=%d",
		r.res.Outcome, r.res.FinalVerificationRate, r.res.RevisionIterationsUsed, r.res.NumSources))
	r.logger.Info("pipeline completed", "session", id, "outcome", string(r.res.Outcome),
		"rate", r.res.FinalVerificationRate, "revisions", r.res.RevisionIterationsUsed)
	r.persist()
}

func (r *run) persist() {
	if err := r.store.WriteYAML(r.sess.ID, workspace.RunResultFile, r.res); err != nil {
		r.logger.Error("persisting run result failed", "session", r.sess.ID, "error", err)
	}
}

func reportDetails(rep types.VerificationReport) map[string]any {
	return map[string]any{
		"total_claims":      rep.TotalClaims,
		"verified_claims":   rep.VerifiedClaims,
		"verification_rate": rep.VerificationRate,
		"threshold_met":     rep.ThresholdMet,
	}
}
