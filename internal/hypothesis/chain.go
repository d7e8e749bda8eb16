// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package hypothesis keeps the versioned hypothesis sets of an autonomous
// session. Version 0 is formed once; every revisit reads the latest version
// and writes the next one. Versions are write-once files, so the chain only
// grows and nothing is overwritten.
package hypothesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"text/template"
	"time"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

var (
	// ErrAlreadyFormed reports a Form call on a session that has version 0.
	ErrAlreadyFormed = errors.New("hypotheses already formed")

	// ErrMissingPriorVersion reports a Revisit before any version exists.
	ErrMissingPriorVersion = errors.New("no prior hypothesis version")

	// ErrVersionConflict reports that another writer created the version
	// this call was about to write.
	ErrVersionConflict = errors.New("hypothesis version conflict")
)

// Dir is the session directory holding the version files.
const Dir = workspace.DirAutoHypotheses

var versionRe = regexp.MustCompile(`^hypotheses_v(\d+)\.yaml$`)

// FileName returns the artifact name of a version.
func FileName(version int) string {
	return fmt.Sprintf("hypotheses_v%d.yaml", version)
}

// Evidence points the revisiting agent at what changed since the last version.
type Evidence struct {
	Sources             []string
	VerificationReports []string
}

// Chain forms and revisits hypothesis sets through the executor.
type Chain struct {
	exec   agent.Executor
	store  *workspace.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewChain builds a Chain. A nil logger discards output.
func NewChain(exec agent.Executor, store *workspace.Store, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{exec: exec, store: store, logger: logger, now: time.Now}
}

// Latest returns the highest version present. ok is false when the session
// has no hypotheses yet, in which case version is 0.
func (c *Chain) Latest(sessionID string) (version int, ok bool, err error) {
	files, err := c.store.List(sessionID, Dir, "hypotheses_v*.yaml")
	if err != nil {
		return 0, false, err
	}
	for _, f := range files {
		m := versionRe.FindStringSubmatch(path.Base(f))
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !ok || v > version {
			version, ok = v, true
		}
	}
	return version, ok, nil
}

// Read loads one version.
func (c *Chain) Read(sessionID string, version int) (types.HypothesisSet, error) {
	var set types.HypothesisSet
	if err := c.store.ReadYAML(sessionID, path.Join(Dir, FileName(version)), &set); err != nil {
		return types.HypothesisSet{}, fmt.Errorf("reading hypotheses v%d: %w", version, err)
	}
	return set, nil
}

// Current loads the latest version, or fails with ErrMissingPriorVersion.
func (c *Chain) Current(sessionID string) (types.HypothesisSet, error) {
	v, ok, err := c.Latest(sessionID)
	if err != nil {
		return types.HypothesisSet{}, err
	}
	if !ok {
		return types.HypothesisSet{}, ErrMissingPriorVersion
	}
	return c.Read(sessionID, v)
}

var formTmpl = template.Must(template.New("form").Parse(`Form initial working hypotheses about the research topic:

  {{.Topic}}

Propose 3 to 6 specific, falsifiable hypotheses that research could confirm or refute.
Give each a certitude between 0 and 1 reflecting how likely you think it is before any research,
and a short reasoning. You may use fetch_url for quick background reading.

Record them with {{.Tool}} exactly once.
`))

var revisitTmpl = template.Must(template.New("revisit").Parse(`Revisit the working hypotheses (version {{.Version}}) for the topic:

  {{.Topic}}

Reason for revisiting: {{.Reason}}

Current hypotheses:
{{range .Hypotheses}}  - {{.ID}} (certitude {{printf "%.2f" .Certitude}}): {{.Text}}
{{end}}{{if .Evidence.Sources}}
Research notes:
{{range .Evidence.Sources}}  - {{.}}
{{end}}{{end}}{{if .Evidence.VerificationReports}}
Verification reports:
{{range .Evidence.VerificationReports}}  - {{.}}
{{end}}{{end}}
Read the evidence, then record the complete revised set with {{.Tool}}. Keep ids for hypotheses
you keep, adjust certitudes to the evidence, drop refuted ones, add new ones if the evidence
suggests them, and summarize what changed in revision_summary.
`))

const hypothesisSystem = `You maintain the working hypotheses of a research session.
Certitudes must reflect the evidence you have actually read.
When you have recorded the hypotheses, reply with a one-line summary and stop calling tools.`

// Form runs the executor to create version 0. It fails with
// ErrAlreadyFormed when any version exists.
func (c *Chain) Form(ctx context.Context, sessionID, topic string) (types.HypothesisSet, error) {
	if _, ok, err := c.Latest(sessionID); err != nil {
		return types.HypothesisSet{}, err
	} else if ok {
		return types.HypothesisSet{}, ErrAlreadyFormed
	}

	rec := &recorder{}
	msg, err := stage.Render(formTmpl, map[string]any{"Topic": topic, "Tool": RecordToolName})
	if err != nil {
		return types.HypothesisSet{}, err
	}
	if err := c.run(ctx, sessionID, 0, []agent.Capability{agent.CapWeb}, msg, rec); err != nil {
		return types.HypothesisSet{}, err
	}

	set := types.HypothesisSet{
		Topic:      topic,
		Version:    0,
		Hypotheses: rec.hypotheses,
		CreatedAt:  c.now().UTC(),
	}
	return set, c.write(sessionID, set)
}

// Revisit runs the executor over the latest version and the evidence and
// writes version N+1 pointing back at N.
func (c *Chain) Revisit(ctx context.Context, sessionID, reason string, evidence Evidence) (types.HypothesisSet, error) {
	prev, err := c.Current(sessionID)
	if err != nil {
		return types.HypothesisSet{}, err
	}

	rec := &recorder{}
	msg, err := stage.Render(revisitTmpl, map[string]any{
		"Topic":      prev.Topic,
		"Version":    prev.Version,
		"Reason":     reason,
		"Hypotheses": prev.Hypotheses,
		"Evidence":   evidence,
		"Tool":       RecordToolName,
	})
	if err != nil {
		return types.HypothesisSet{}, err
	}
	next := prev.Version + 1
	if err := c.run(ctx, sessionID, next, []agent.Capability{agent.CapRead}, msg, rec); err != nil {
		return types.HypothesisSet{}, err
	}

	prevVersion := prev.Version
	set := types.HypothesisSet{
		Topic:           prev.Topic,
		Version:         next,
		PreviousVersion: &prevVersion,
		Hypotheses:      rec.hypotheses,
		RevisionSummary: rec.summary,
		CreatedAt:       c.now().UTC(),
	}
	return set, c.write(sessionID, set)
}

func (c *Chain) run(ctx context.Context, sessionID string, version int, caps []agent.Capability, msg string, rec *recorder) error {
	scope, err := c.store.Scope(sessionID)
	if err != nil {
		return err
	}
	req := agent.Request{
		Tier:         agent.TierStandard,
		Capabilities: caps,
		Scope:        scope,
		WriteDir:     Dir,
		System:       hypothesisSystem,
		Message:      msg,
		Tools:        []agent.Tool{rec.tool()},
	}
	label := fmt.Sprintf("hypotheses/v%d", version)
	c.logger.Info("hypotheses started", "session", sessionID, "version", version)
	if err := stage.Execute(ctx, c.exec, c.store, sessionID, label, req); err != nil {
		return fmt.Errorf("hypotheses v%d: %w", version, err)
	}
	if !rec.recorded() {
		return &stage.OutputMissingError{Stage: label, Artifact: path.Join(Dir, FileName(version))}
	}
	return nil
}

func (c *Chain) write(sessionID string, set types.HypothesisSet) error {
	data, err := marshal(set)
	if err != nil {
		return err
	}
	rel := path.Join(Dir, FileName(set.Version))
	if err := c.store.WriteNew(sessionID, rel, data); err != nil {
		if errors.Is(err, workspace.ErrAlreadyExists) {
			return fmt.Errorf("%s: %w", rel, ErrVersionConflict)
		}
		return err
	}
	c.store.AppendLog(sessionID, workspace.LevelInfo,
		fmt.Sprintf("hypotheses v%d recorded: %d hypotheses, average certitude %.2f",
			set.Version, len(set.Hypotheses), set.AverageCertitude()))
	c.logger.Info("hypotheses recorded", "session", sessionID, "version", set.Version,
		"count", len(set.Hypotheses), "avg_certitude", set.AverageCertitude())
	return nil
}

// AverageCertitude returns the mean certitude of set, or 0 when it is empty.
func AverageCertitude(set types.HypothesisSet) float64 {
	return set.AverageCertitude()
}
