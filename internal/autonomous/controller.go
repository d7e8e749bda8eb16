// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package autonomous lets the agent choose the order of work. The agent is
// given hypothesis, research, drafting and verification tools and a decision
// policy; every step it takes is streamed back to the caller.
package autonomous

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/hypothesis"
	"github.com/pdiddy/report-engine/internal/stage"
	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Verifier checks a claim set. *verify.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, set types.ClaimSet, threshold float64) (types.VerificationReport, error)
}

// Indexer records verification results. *catalog.Store implements it.
type Indexer interface {
	RecordSession(ctx context.Context, sess types.Session) error
	Record(ctx context.Context, sessionID string, set types.ClaimSet, report types.VerificationReport) error
}

// Controller starts autonomous research sessions.
type Controller struct {
	cfg      types.PipelineConfig
	store    *workspace.Store
	exec     agent.Executor
	verifier Verifier
	index    Indexer
	style    types.StyleGuide
	logger   *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithIndexer records verification reports in idx.
func WithIndexer(idx Indexer) Option {
	return func(c *Controller) { c.index = idx }
}

// WithStyle sets the default style of the final report.
func WithStyle(s types.StyleGuide) Option {
	return func(c *Controller) { c.style = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
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
		style:    types.StyleTechnical,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stream is the event sequence of one autonomous run. It is finite: the
// last event is either complete or error, after which Events is closed.
// When the run is cancelled and the reader has stopped draining, buffered
// events may be dropped to make room for the error event.
type Stream struct {
	sessionID string
	events    chan agent.Event
	inbox     chan string

	// done is closed once the agent has stopped reading the inbox.
	done chan struct{}
}

func newStream(sessionID string, inboxSize int) *Stream {
	if inboxSize < 1 {
		inboxSize = 1
	}
	return &Stream{
		sessionID: sessionID,
		events:    make(chan agent.Event, 16),
		inbox:     make(chan string, inboxSize),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session the run writes to.
func (s *Stream) SessionID() string { return s.sessionID }

// Events returns the event channel.
func (s *Stream) Events() <-chan agent.Event { return s.events }

// Inject queues a message for the agent's next turn. It never blocks and
// reports false when the inbox is full or the agent has finished.
func (s *Stream) Inject(msg string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

var systemTmpl = template.Must(template.New("system").Parse(`You are an autonomous research agent producing a citation-verified report on:

  {{.Topic}}

You decide which tool to call next. Available tools:
- form_hypotheses: form initial working hypotheses. Call this first, exactly once.
- conduct_research: run parallel research workers, optionally with a focus.
- revisit_hypotheses: update hypotheses from the evidence gathered so far. Give a reason.
- write_draft: write the first report draft from all research notes.
- verify_draft: extract the current draft's claims and verify their citations.
- revise_draft: critique and revise the current draft using its verification results.
- finalize_report: produce the final styled report and end the session.

Decision policy:
- Draft only once the average hypothesis certitude is at least {{printf "%.2f" .Gate}}; research and revisit hypotheses until then.
- Verify every draft. Revise while the verification rate is below {{printf "%.2f" .Threshold}}, at most {{.MaxRevisions}} times.
- Finalize when the rate is at or above the threshold, or when revisions are used up.
Messages from the user may arrive between steps; take them into account.
After finalize_report succeeds, reply with a short summary and stop calling tools.`))

// Research creates an autonomous session for topic and starts the agent. It
// returns once the session exists; progress arrives on the stream.
func (c *Controller) Research(ctx context.Context, topic string) (*Stream, error) {
	if err := types.ValidateTopic(topic); err != nil {
		return nil, err
	}
	sess := c.store.NewSession(topic, types.ModeAutonomous, c.cfg.SessionConfig(c.style))
	if err := c.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if c.index != nil {
		if err := c.index.RecordSession(ctx, sess); err != nil {
			c.logger.Warn("indexing session failed", "session", sess.ID, "error", err)
		}
	}

	system, err := stage.Render(systemTmpl, map[string]any{
		"Topic":        topic,
		"Gate":         c.cfg.Autonomous.DraftCertitude,
		"Threshold":    c.cfg.Quality.VerificationThreshold,
		"MaxRevisions": c.cfg.Quality.MaxRevisionIterations,
	})
	if err != nil {
		return nil, err
	}
	scope, err := c.store.Scope(sess.ID)
	if err != nil {
		return nil, err
	}

	s := newStream(sess.ID, c.cfg.Autonomous.InboxSize)
	st := &session{
		Controller: c,
		id:         sess.ID,
		topic:      topic,
		chain:      hypothesis.NewChain(c.exec, c.store, c.logger),
		runner:     stage.NewRunner(c.exec, c.store, c.logger),
	}
	req := agent.Request{
		Tier:    agent.TierDeep,
		Scope:   scope,
		System:  system,
		Message: fmt.Sprintf("Research topic: %s\nBegin.", topic),
		Tools:   st.tools(),
		Inbox:   s.inbox,
	}

	if err := c.store.UpdateStatus(sess.ID, types.StatusRunning, ""); err != nil {
		return nil, err
	}
	c.store.AppendLog(sess.ID, workspace.LevelInfo, fmt.Sprintf("autonomous session started: topic=%q", topic))
	c.logger.Info("autonomous session started", "session", sess.ID, "topic", topic)

	go c.drive(ctx, s, req)
	return s, nil
}

// drive runs the agent, forwards its events, and closes the stream with a
// final complete or error event.
func (c *Controller) drive(ctx context.Context, s *Stream, req agent.Request) {
	defer close(s.events)

	agentEvents := make(chan agent.Event, 16)
	var calls []string
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range agentEvents {
			if ev.Type == agent.EventToolCall {
				calls = append(calls, ev.Tool)
			}
			c.store.AppendLog(s.sessionID, workspace.LevelEvent, describe(ev))
			select {
			case s.events <- ev:
			case <-ctx.Done():
			}
		}
	}()

	err := c.exec.Execute(ctx, req, agentEvents)
	close(s.done)
	close(agentEvents)
	<-forwarded

	final := agent.Event{Type: agent.EventComplete, ToolCalls: calls}
	if err != nil {
		final = agent.Event{Type: agent.EventError, Content: err.Error(), ToolCalls: calls}
		c.store.UpdateStatus(s.sessionID, types.StatusFailed, "")
		c.store.AppendLog(s.sessionID, workspace.LevelError, fmt.Sprintf("autonomous session failed: %v", err))
		c.logger.Error("autonomous session failed", "session", s.sessionID, "error", err)
	} else {
		if c.store.IsNonEmpty(s.sessionID, FinalReportFile) {
			final.Content = FinalReportFile
		}
		c.store.UpdateStatus(s.sessionID, types.StatusCompleted, "")
		c.store.AppendLog(s.sessionID, workspace.LevelInfo,
			fmt.Sprintf("autonomous session completed: tools=%s", strings.Join(calls, ",")))
		c.logger.Info("autonomous session completed", "session", s.sessionID, "tool_calls", len(calls))
	}

	s.finish(ctx, final)
}

// finish sends the terminal event. drive is the only sender, so after one
// buffered event is discarded the send cannot block.
func (s *Stream) finish(ctx context.Context, final agent.Event) {
	select {
	case s.events <- final:
		return
	case <-ctx.Done():
	}
	select {
	case s.events <- final:
	default:
		select {
		case <-s.events:
		default:
		}
		s.events <- final
	}
}

func describe(ev agent.Event) string {
	switch ev.Type {
	case agent.EventToolCall:
		return fmt.Sprintf("[agent] tool_call %s %s", ev.Tool, truncate(ev.Input, 200))
	case agent.EventToolResult:
		if ev.IsError {
			return fmt.Sprintf("[agent] tool_result %s error: %s", ev.Tool, truncate(ev.Content, 200))
		}
		return fmt.Sprintf("[agent] tool_result %s", ev.Tool)
	}
	return fmt.Sprintf("[agent] %s %s", ev.Type, truncate(ev.Content, 200))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return webtext.Clip(s, n) + "..."
}
