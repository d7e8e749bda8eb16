// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package autonomous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/extract"
	"github.com/pdiddy/report-engine/internal/hypothesis"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

const topic = "DeFi yields on Stellar blockchain in 2025"

var artifactRe = regexp.MustCompile(`(source_\d+|draft_v\d+|draft|critique_v\d+|report)\.md`)

const claimsJSON = `{"claims": [
	{"text": "Blend lending pools paid 8% APY on USDC", "citation_url": "1"},
	{"text": "Soroban smart contracts launched on mainnet", "citation_url": "https://stellar.example/soroban"}
]}`

func hypothesesJSON(certitude float64, summary string) string {
	args := map[string]any{
		"hypotheses": []map[string]any{
			{"id": "h1", "text": "Lending yields exceed AMM fees", "certitude": certitude},
			{"id": "h2", "text": "Stablecoin pools dominate TVL", "certitude": certitude},
		},
		"revision_summary": summary,
	}
	b, _ := json.Marshal(args)
	return string(b)
}

type step struct {
	tool string
	args string
}

type outcome struct {
	tool string
	out  string
	err  error
}

// scriptedAgent plays the top-level agent from a script of tool calls and
// serves every nested stage: it records hypotheses from a queue, submits
// claims, and otherwise writes the artifact named last in the instruction.
type scriptedAgent struct {
	script     []step
	hypotheses []string
	release    chan struct{}
	fail       error

	// flood sends that many message events, then waits for cancellation.
	flood int

	mu       sync.Mutex
	outcomes []outcome
	injected []string
}

func (a *scriptedAgent) Execute(ctx context.Context, req agent.Request, events chan<- agent.Event) error {
	if req.Inbox != nil {
		return a.drive(ctx, req, events)
	}
	for _, tool := range req.Tools {
		switch tool.Name {
		case hypothesis.RecordToolName:
			a.mu.Lock()
			if len(a.hypotheses) == 0 {
				a.mu.Unlock()
				return errors.New("no hypotheses scripted")
			}
			args := a.hypotheses[0]
			a.hypotheses = a.hypotheses[1:]
			a.mu.Unlock()
			_, err := tool.Handler(ctx, json.RawMessage(args))
			return err
		case extract.SubmitToolName:
			_, err := tool.Handler(ctx, json.RawMessage(claimsJSON))
			return err
		}
	}

	names := artifactRe.FindAllString(req.Message, -1)
	if len(names) == 0 {
		return errors.New("no artifact named in instruction")
	}
	name := names[len(names)-1]
	dir := filepath.Join(req.Scope, req.WriteDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := "# " + name + "\n\nBlend pays yield [1].\n\n## References\n\n[1] Blend pools. https://blend.example/pools\n"
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func (a *scriptedAgent) drive(ctx context.Context, req agent.Request, events chan<- agent.Event) error {
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for draining := true; draining; {
		select {
		case msg := <-req.Inbox:
			a.mu.Lock()
			a.injected = append(a.injected, msg)
			a.mu.Unlock()
		default:
			draining = false
		}
	}
	if a.fail != nil {
		return a.fail
	}
	if a.flood > 0 {
		for i := range a.flood {
			select {
			case events <- agent.Event{Type: agent.EventMessage, Content: fmt.Sprintf("thinking %d", i)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}

	tools := map[string]agent.Tool{}
	for _, t := range req.Tools {
		tools[t.Name] = t
	}
	for _, s := range a.script {
		tool, ok := tools[s.tool]
		if !ok {
			return errors.New("unknown tool " + s.tool)
		}
		events <- agent.Event{Type: agent.EventToolCall, Tool: s.tool, Input: s.args}
		out, err := tool.Handler(ctx, json.RawMessage(s.args))
		a.mu.Lock()
		a.outcomes = append(a.outcomes, outcome{tool: s.tool, out: out, err: err})
		a.mu.Unlock()
		ev := agent.Event{Type: agent.EventToolResult, Tool: s.tool, Content: out}
		if err != nil {
			ev.Content, ev.IsError = err.Error(), true
		}
		events <- ev
	}
	events <- agent.Event{Type: agent.EventMessage, Content: "done"}
	return nil
}

type scriptedVerifier struct {
	rates []float64

	mu    sync.Mutex
	calls []string
}

func (v *scriptedVerifier) Verify(_ context.Context, set types.ClaimSet, threshold float64) (types.VerificationReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rate := v.rates[min(len(v.calls), len(v.rates)-1)]
	v.calls = append(v.calls, set.DraftRef)
	return types.VerificationReport{
		TotalClaims:      len(set.Claims),
		VerificationRate: rate,
		Threshold:        threshold,
		ThresholdMet:     rate >= threshold,
	}, nil
}

func newController(t *testing.T, a *scriptedAgent, v *scriptedVerifier, opts ...func(*types.PipelineConfig)) (*Controller, *workspace.Store) {
	t.Helper()
	cfg := types.DefaultPipelineConfig()
	cfg.WorkspaceDir = t.TempDir()
	cfg.Research.NumResearchers = 2
	cfg.Autonomous.DraftCertitude = 0.7
	for _, o := range opts {
		o(&cfg)
	}
	store, err := workspace.NewStore(cfg.WorkspaceDir)
	require.NoError(t, err)
	c, err := New(cfg, store, a, v)
	require.NoError(t, err)
	return c, store
}

// collect drains the stream and returns every event in order.
func collect(t *testing.T, s *Stream) []agent.Event {
	t.Helper()
	var evs []agent.Event
	for ev := range s.Events() {
		evs = append(evs, ev)
	}
	require.NotEmpty(t, evs)
	return evs
}

func TestResearchFollowsAgentDecisions(t *testing.T) {
	a := &scriptedAgent{
		hypotheses: []string{
			hypothesesJSON(0.5, ""),
			hypothesesJSON(0.8, "research supports both"),
		},
		script: []step{
			{"form_hypotheses", `{}`},
			{"conduct_research", `{"focus": "Blend lending"}`},
			{"write_draft", `{}`},
			{"revisit_hypotheses", `{"reason": "research notes support both hypotheses"}`},
			{"write_draft", `{}`},
			{"verify_draft", `{}`},
			{"revise_draft", `{}`},
			{"verify_draft", `{}`},
			{"finalize_report", `{"style": "defi_report"}`},
		},
	}
	v := &scriptedVerifier{rates: []float64{0.6, 0.95}}
	c, store := newController(t, a, v)

	s, err := c.Research(context.Background(), topic)
	require.NoError(t, err)
	evs := collect(t, s)

	final := evs[len(evs)-1]
	require.Equal(t, agent.EventComplete, final.Type, final.Content)
	assert.Equal(t, FinalReportFile, final.Content)
	want := []string{
		"form_hypotheses", "conduct_research", "write_draft", "revisit_hypotheses",
		"write_draft", "verify_draft", "revise_draft", "verify_draft", "finalize_report",
	}
	if diff := cmp.Diff(want, final.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, a.outcomes, len(want))
	gated := a.outcomes[2]
	require.Error(t, gated.err)
	assert.Contains(t, gated.err.Error(), "below 0.70")
	for i, o := range a.outcomes {
		if i != 2 {
			assert.NoError(t, o.err, o.tool)
		}
	}
	assert.Contains(t, a.outcomes[7].out, "met=true")

	id := s.SessionID()
	for _, rel := range []string{
		path.Join(hypothesis.Dir, "hypotheses_v0.yaml"),
		path.Join(hypothesis.Dir, "hypotheses_v1.yaml"),
		path.Join(RoundDir(1), "source_1.md"),
		path.Join(RoundDir(1), "source_2.md"),
		DraftFile,
		ClaimsFile(0), VerificationFile(0),
		CritiqueFile(1), RevisedDraftFile(1),
		ClaimsFile(1), VerificationFile(1),
		FinalReportFile,
	} {
		assert.True(t, store.IsNonEmpty(id, rel), rel)
	}
	assert.Equal(t, []string{DraftFile, RevisedDraftFile(1)}, v.calls)

	ref, err := ReportRef(store, id)
	require.NoError(t, err)
	assert.Equal(t, FinalReportFile, ref)

	sess, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, types.ModeAutonomous, sess.Mode)
	assert.Equal(t, types.StatusCompleted, sess.Status)

	lines, err := store.Transcript(id, 0)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\n"), "tool_call revisit_hypotheses")
}

func TestResearchStreamsExecutorFailure(t *testing.T) {
	a := &scriptedAgent{fail: &agent.ExecutorError{Tier: agent.TierDeep, Turn: 2, Err: errors.New("overloaded")}}
	c, store := newController(t, a, &scriptedVerifier{rates: []float64{1}})

	s, err := c.Research(context.Background(), topic)
	require.NoError(t, err)
	evs := collect(t, s)

	final := evs[len(evs)-1]
	assert.Equal(t, agent.EventError, final.Type)
	assert.Contains(t, final.Content, "overloaded")

	sess, err := store.Load(s.SessionID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, sess.Status)
}

func TestInjectReachesAgentWithoutBlocking(t *testing.T) {
	a := &scriptedAgent{release: make(chan struct{})}
	c, _ := newController(t, a, &scriptedVerifier{rates: []float64{1}}, func(cfg *types.PipelineConfig) {
		cfg.Autonomous.InboxSize = 1
	})

	s, err := c.Research(context.Background(), topic)
	require.NoError(t, err)

	assert.True(t, s.Inject("focus on Blend"))
	assert.False(t, s.Inject("and Aquarius"), "full inbox refuses instead of blocking")
	close(a.release)

	evs := collect(t, s)
	final := evs[len(evs)-1]
	assert.Equal(t, agent.EventComplete, final.Type)
	assert.Empty(t, final.Content, "no report was produced")
	assert.Equal(t, []string{"focus on Blend"}, a.injected)
	assert.False(t, s.Inject("anything else?"), "finished run refuses messages")
}

func TestCancelledResearchEndsWithError(t *testing.T) {
	a := &scriptedAgent{flood: 40}
	c, store := newController(t, a, &scriptedVerifier{rates: []float64{1}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := c.Research(ctx, topic)
	require.NoError(t, err)

	// Nobody reads until the buffer is full and the run has failed.
	require.Eventually(t, func() bool { return len(s.Events()) == cap(s.Events()) }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, func() bool {
		sess, err := store.Load(s.SessionID())
		return err == nil && sess.Status == types.StatusFailed
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, s.Inject("still there?"))

	evs := collect(t, s)
	final := evs[len(evs)-1]
	assert.Equal(t, agent.EventError, final.Type)
	assert.Contains(t, final.Content, context.Canceled.Error())
}

func TestToolsEnforceOrdering(t *testing.T) {
	a := &scriptedAgent{
		hypotheses: []string{hypothesesJSON(0.9, "")},
		script: []step{
			{"revisit_hypotheses", `{"reason": "too early"}`},
			{"write_draft", `{}`},
			{"form_hypotheses", `{}`},
			{"form_hypotheses", `{}`},
			{"write_draft", `{}`},
			{"verify_draft", `{}`},
			{"finalize_report", `{"style": "gothic"}`},
		},
	}
	c, store := newController(t, a, &scriptedVerifier{rates: []float64{1}})

	s, err := c.Research(context.Background(), topic)
	require.NoError(t, err)
	evs := collect(t, s)
	require.Equal(t, agent.EventComplete, evs[len(evs)-1].Type)

	_, err = ReportRef(store, s.SessionID())
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	require.Len(t, a.outcomes, 7)
	assert.ErrorIs(t, a.outcomes[0].err, hypothesis.ErrMissingPriorVersion)
	assert.ErrorIs(t, a.outcomes[1].err, hypothesis.ErrMissingPriorVersion)
	assert.NoError(t, a.outcomes[2].err)
	assert.ErrorIs(t, a.outcomes[3].err, hypothesis.ErrAlreadyFormed)
	assert.ErrorContains(t, a.outcomes[4].err, "no research notes")
	assert.ErrorContains(t, a.outcomes[5].err, "no draft yet")
	assert.ErrorContains(t, a.outcomes[6].err, "no draft yet")

	var results int
	for _, ev := range evs {
		if ev.Type == agent.EventToolResult && ev.IsError {
			results++
		}
	}
	assert.Equal(t, 6, results)
}

func TestResearchRejectsShortTopic(t *testing.T) {
	c, store := newController(t, &scriptedAgent{}, &scriptedVerifier{rates: []float64{1}})

	_, err := c.Research(context.Background(), "DeFi")
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "topic", cfgErr.Field)

	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := types.DefaultPipelineConfig()
	cfg.WorkspaceDir = t.TempDir()
	cfg.Autonomous.DraftCertitude = 1.5
	store, err := workspace.NewStore(cfg.WorkspaceDir)
	require.NoError(t, err)

	_, err = New(cfg, store, &scriptedAgent{}, &scriptedVerifier{rates: []float64{1}})
	var cfgErr *types.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
