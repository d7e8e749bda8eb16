// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package autonomous

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/extract"
	"github.com/pdiddy/report-engine/internal/hypothesis"
	"github.com/pdiddy/report-engine/internal/research"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Artifacts of an autonomous session.
const (
	DraftFile       = workspace.DirAutoDraft + "/draft.md"
	FinalReportFile = workspace.DirAutoFinal + "/report.md"
)

// RoundDir names the directory of research round i.
func RoundDir(i int) string {
	return fmt.Sprintf("%s/round_%d", workspace.DirAutoResearch, i)
}

// ClaimsFile names the claim set of draft version v; version 0 is the first draft.
func ClaimsFile(v int) string {
	if v == 0 {
		return workspace.DirAutoExtract + "/claims.yaml"
	}
	return fmt.Sprintf("%s/claims_v%d.yaml", workspace.DirAutoExtract, v)
}

// VerificationFile names the verification report of draft version v.
func VerificationFile(v int) string {
	if v == 0 {
		return workspace.DirAutoVerify + "/verification.yaml"
	}
	return fmt.Sprintf("%s/verification_v%d.yaml", workspace.DirAutoVerify, v)
}

// CritiqueFile names the critique written before revision v.
func CritiqueFile(v int) string {
	return fmt.Sprintf("%s/critique_v%d.md", workspace.DirAutoCritique, v)
}

// RevisedDraftFile names the draft written by revision v.
func RevisedDraftFile(v int) string {
	return fmt.Sprintf("%s/draft_v%d.md", workspace.DirAutoRevise, v)
}

// session is the state the tools share during one run. The agent calls
// tools one at a time, but the mutex keeps the state consistent if a
// provider issues parallel calls.
type session struct {
	*Controller
	id     string
	topic  string
	chain  *hypothesis.Chain
	runner *stage.Runner

	mu            sync.Mutex
	rounds        int
	sources       []string
	version       int
	draft         string
	verifications []string
	lastReport    *types.VerificationReport
}

func (s *session) tools() []agent.Tool {
	return []agent.Tool{
		{
			Name:        "form_hypotheses",
			Description: "Form the initial working hypotheses. Valid only once, before any other hypothesis tool.",
			Parameters:  agent.ObjectSchema(nil, map[string]map[string]any{}),
			Handler:     s.track("form_hypotheses", s.formHypotheses),
		},
		{
			Name:        "revisit_hypotheses",
			Description: "Revise the hypotheses from the research notes and verification reports gathered so far.",
			Parameters: agent.ObjectSchema([]string{"reason"}, map[string]map[string]any{
				"reason": agent.StringProp("why the hypotheses should be revisited now"),
			}),
			Handler: s.track("revisit_hypotheses", s.revisitHypotheses),
		},
		{
			Name:        "conduct_research",
			Description: "Run a round of parallel research workers. Each worker writes one notes file.",
			Parameters: agent.ObjectSchema(nil, map[string]map[string]any{
				"focus": agent.StringProp("optional direction for this round, e.g. a hypothesis to test"),
			}),
			Handler: s.track("conduct_research", s.conductResearch),
		},
		{
			Name:        "write_draft",
			Description: "Write the first report draft from all research notes. Refused while average hypothesis certitude is below the policy gate.",
			Parameters:  agent.ObjectSchema(nil, map[string]map[string]any{}),
			Handler:     s.track("write_draft", s.writeDraft),
		},
		{
			Name:        "verify_draft",
			Description: "Extract the current draft's claims and verify each citation.",
			Parameters:  agent.ObjectSchema(nil, map[string]map[string]any{}),
			Handler:     s.track("verify_draft", s.verifyDraft),
		},
		{
			Name:        "revise_draft",
			Description: "Critique the current draft against its verification results and write a revised version.",
			Parameters:  agent.ObjectSchema(nil, map[string]map[string]any{}),
			Handler:     s.track("revise_draft", s.reviseDraft),
		},
		{
			Name:        "finalize_report",
			Description: "Produce the final styled report from the current draft.",
			Parameters: agent.ObjectSchema(nil, map[string]map[string]any{
				"style": agent.StringProp("technical, conversational, academic or defi_report"),
			}),
			Handler: s.track("finalize_report", s.finalizeReport),
		},
	}
}

// track records the tool as the session's current stage.
func (s *session) track(name string, fn agent.ToolFunc) agent.ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		if err := s.store.UpdateStatus(s.id, types.StatusRunning, name); err != nil {
			s.logger.Warn("updating status failed", "session", s.id, "error", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(ctx, args)
	}
}

func (s *session) formHypotheses(ctx context.Context, _ json.RawMessage) (string, error) {
	set, err := s.chain.Form(ctx, s.id, s.topic)
	if err != nil {
		return "", err
	}
	return summarize(set), nil
}

func (s *session) revisitHypotheses(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Reason string `json:"reason"`
	}
	if err := agent.DecodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Reason) == "" {
		return "", fmt.Errorf("reason is required")
	}
	set, err := s.chain.Revisit(ctx, s.id, args.Reason, hypothesis.Evidence{
		Sources:             append([]string(nil), s.sources...),
		VerificationReports: append([]string(nil), s.verifications...),
	})
	if err != nil {
		return "", err
	}
	return summarize(set), nil
}

func (s *session) conductResearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Focus string `json:"focus"`
	}
	if err := agent.DecodeArgs(raw, &args); err != nil {
		return "", err
	}
	round := s.rounds + 1
	res, err := research.NewCoordinator(s.exec, s.store, s.logger).
		Run(ctx, s.id, RoundDir(round), s.topic, s.cfg.Research.NumResearchers, args.Focus)
	s.rounds = round
	s.sources = append(s.sources, res.Sources...)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("research round %d: %d of %d workers produced notes:\n%s",
		round, res.NumSources(), res.Requested, strings.Join(res.Sources, "\n"))
	return msg, nil
}

func (s *session) writeDraft(ctx context.Context, _ json.RawMessage) (string, error) {
	if s.draft != "" {
		return "", fmt.Errorf("a draft already exists (%s); use revise_draft", s.draft)
	}
	current, err := s.chain.Current(s.id)
	if err != nil {
		return "", fmt.Errorf("form hypotheses first: %w", err)
	}
	if avg, gate := current.AverageCertitude(), s.cfg.Autonomous.DraftCertitude; avg < gate {
		return "", fmt.Errorf("average certitude %.2f is below %.2f; research and revisit hypotheses first", avg, gate)
	}
	if len(s.sources) == 0 {
		return "", fmt.Errorf("no research notes yet; call conduct_research first")
	}

	err = s.runner.Run(ctx, s.id, stage.Draft(stage.DraftInput{
		Topic:      s.topic,
		Sources:    s.sources,
		Hypotheses: path.Join(hypothesis.Dir, hypothesis.FileName(current.Version)),
		Output:     DraftFile,
	}))
	if err != nil {
		return "", err
	}
	s.draft = DraftFile
	s.lastReport = nil
	return "draft written to " + DraftFile, nil
}

func (s *session) verifyDraft(ctx context.Context, _ json.RawMessage) (string, error) {
	if s.draft == "" {
		return "", fmt.Errorf("no draft yet; call write_draft first")
	}
	claims, out := ClaimsFile(s.version), VerificationFile(s.version)

	spec, err := stage.Extract(s.store, s.id, stage.ExtractInput{Draft: s.draft, Output: claims})
	if err != nil {
		return "", err
	}
	if err := s.runner.Run(ctx, s.id, spec); err != nil {
		return "", err
	}
	set, err := extract.Load(s.store, s.id, claims)
	if err != nil {
		return "", err
	}
	report, err := s.verifier.Verify(ctx, set, s.cfg.Quality.VerificationThreshold)
	if err != nil {
		return "", err
	}
	report.DraftRef = set.DraftRef
	if err := s.store.WriteYAML(s.id, out, report); err != nil {
		return "", err
	}
	if s.index != nil {
		if err := s.index.Record(ctx, s.id, set, report); err != nil {
			s.logger.Warn("indexing claims failed", "session", s.id, "error", err)
		}
	}
	s.verifications = append(s.verifications, out)
	s.lastReport = &report
	s.store.AppendLog(s.id, workspace.LevelInfo, fmt.Sprintf("verified %s: %d/%d claims (rate %.2f)",
		set.DraftRef, report.VerifiedClaims, report.TotalClaims, report.VerificationRate))

	return fmt.Sprintf("%d of %d claims verified (rate %.2f, threshold %.2f, met=%t); details in %s",
		report.VerifiedClaims, report.TotalClaims, report.VerificationRate,
		report.Threshold, report.ThresholdMet, out), nil
}

func (s *session) reviseDraft(ctx context.Context, _ json.RawMessage) (string, error) {
	if s.draft == "" || s.lastReport == nil {
		return "", fmt.Errorf("verify the current draft before revising it")
	}
	if s.version >= s.cfg.Quality.MaxRevisionIterations {
		return "", fmt.Errorf("revision limit of %d reached; call finalize_report", s.cfg.Quality.MaxRevisionIterations)
	}
	next := s.version + 1
	verification := VerificationFile(s.version)

	if err := s.runner.Run(ctx, s.id, stage.Critique(stage.CritiqueInput{
		Topic:        s.topic,
		Draft:        s.draft,
		Verification: verification,
		Output:       CritiqueFile(next),
	})); err != nil {
		return "", err
	}
	if err := s.runner.Run(ctx, s.id, stage.Revise(stage.ReviseInput{
		Topic:        s.topic,
		Iteration:    next,
		Draft:        s.draft,
		Critique:     CritiqueFile(next),
		Verification: verification,
		Output:       RevisedDraftFile(next),
	})); err != nil {
		return "", err
	}
	s.version = next
	s.draft = RevisedDraftFile(next)
	s.lastReport = nil
	return fmt.Sprintf("revision %d written to %s; verify it next", next, s.draft), nil
}

func (s *session) finalizeReport(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Style string `json:"style"`
	}
	if err := agent.DecodeArgs(raw, &args); err != nil {
		return "", err
	}
	if s.draft == "" {
		return "", fmt.Errorf("no draft yet; call write_draft first")
	}
	style := s.style
	if args.Style != "" {
		parsed, err := types.ParseStyleGuide(args.Style)
		if err != nil {
			return "", err
		}
		style = parsed
	}
	if err := s.runner.Run(ctx, s.id, stage.Style(stage.StyleInput{
		Topic:  s.topic,
		Draft:  s.draft,
		Style:  style,
		Output: FinalReportFile,
	})); err != nil {
		return "", err
	}
	return "final report written to " + FinalReportFile, nil
}

func summarize(set types.HypothesisSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "hypotheses v%d (average certitude %.2f):\n", set.Version, set.AverageCertitude())
	for _, h := range set.Hypotheses {
		fmt.Fprintf(&b, "- %s [%.2f] %s\n", h.ID, h.Certitude, h.Text)
	}
	return b.String()
}
