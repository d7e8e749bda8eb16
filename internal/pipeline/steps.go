// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"

	"github.com/pdiddy/report-engine/internal/extract"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Artifacts of a linear session.
const (
	DraftFile        = workspace.DirDraft + "/draft.md"
	ClaimsFile       = workspace.DirExtract + "/claims.yaml"
	VerificationFile = workspace.DirVerify + "/verification.yaml"
	CritiqueFile     = workspace.DirCritique + "/critique.md"
	ReportFile       = workspace.DirStyle + "/report.md"
)

// RevisedDraftFile names the draft written by revision i.
func RevisedDraftFile(i int) string {
	return fmt.Sprintf("%s/draft_v%d.md", workspace.DirRevise, i)
}

// ReverifyClaimsFile names the claim set extracted from revision i.
func ReverifyClaimsFile(i int) string {
	return fmt.Sprintf("%s/claims_v%d.yaml", workspace.DirReverify, i)
}

// ReverifyFile names the verification report of revision i.
func ReverifyFile(i int) string {
	return fmt.Sprintf("%s/verification_v%d.yaml", workspace.DirReverify, i)
}

// extract runs the claim extraction step for draft into claims.
func (r *run) extract(ctx context.Context, name, draft, claims string) error {
	spec, err := stage.Extract(r.store, r.sess.ID, stage.ExtractInput{Draft: draft, Output: claims})
	if err != nil {
		return fmt.Errorf("stage %s: input %s: %w", name, draft, err)
	}
	spec.Name = name
	return r.runner.Run(ctx, r.sess.ID, spec)
}

// verify checks the claim set at claims and writes its report to out.
func (r *run) verify(ctx context.Context, claims, out string) (types.VerificationReport, error) {
	set, err := extract.Load(r.store, r.sess.ID, claims)
	if err != nil {
		return types.VerificationReport{}, err
	}
	report, err := r.verifier.Verify(ctx, set, r.cfg.Quality.VerificationThreshold)
	if err != nil {
		return types.VerificationReport{}, fmt.Errorf("verifying %s: %w", claims, err)
	}
	report.DraftRef = set.DraftRef
	if err := r.store.WriteYAML(r.sess.ID, out, report); err != nil {
		return report, err
	}

	r.store.AppendLog(r.sess.ID, workspace.LevelInfo, fmt.Sprintf("verified %s: %d/%d claims (rate %.2f)",
		set.DraftRef, report.VerifiedClaims, report.TotalClaims, report.VerificationRate))
	if r.index != nil {
		if err := r.index.Record(ctx, r.sess.ID, set, report); err != nil {
			r.logger.Warn("indexing claims failed", "session", r.sess.ID, "draft", set.DraftRef, "error", err)
		}
	}
	return report, nil
}

// loopSteps performs the convergence loop's work against the session.
type loopSteps struct {
	r *run
}

func (s loopSteps) Critique(ctx context.Context) error {
	r := s.r
	return r.stage(ctx, stage.NameCritique, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{CritiqueFile}
		return r.runner.Run(ctx, r.sess.ID, stage.Critique(stage.CritiqueInput{
			Topic:        r.sess.Topic,
			Draft:        r.draft,
			Verification: r.verification,
			Output:       CritiqueFile,
		}))
	})
}

func (s loopSteps) Revise(ctx context.Context, iteration int) error {
	r := s.r
	out := RevisedDraftFile(iteration)
	return r.stage(ctx, stage.NameRevise, func(ctx context.Context, sr *types.StageResult) error {
		r.revisions++
		sr.Artifacts = []string{out}
		sr.Details = map[string]any{"iteration": iteration, "input": r.draft}
		if err := r.runner.Run(ctx, r.sess.ID, stage.Revise(stage.ReviseInput{
			Topic:        r.sess.Topic,
			Iteration:    iteration,
			Draft:        r.draft,
			Critique:     CritiqueFile,
			Verification: r.verification,
			Output:       out,
		})); err != nil {
			return err
		}
		r.draft = out
		return nil
	})
}

// Reverify re-extracts and re-verifies the full claim set of the new draft.
func (s loopSteps) Reverify(ctx context.Context, iteration int) (types.VerificationReport, error) {
	r := s.r
	var report types.VerificationReport
	claims, out := ReverifyClaimsFile(iteration), ReverifyFile(iteration)
	err := r.stage(ctx, stage.NameReverify, func(ctx context.Context, sr *types.StageResult) error {
		sr.Artifacts = []string{claims, out}
		if err := r.extract(ctx, stage.NameReverify, r.draft, claims); err != nil {
			return err
		}
		rep, err := r.verify(ctx, claims, out)
		report = rep
		sr.Details = reportDetails(rep)
		sr.Details["iteration"] = iteration
		return err
	})
	if err != nil {
		return report, err
	}
	r.verification = out
	return report, nil
}
