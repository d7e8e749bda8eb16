// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage wraps a single agent run as a pipeline step. A step checks
// that its inputs exist, runs the executor once with a step-specific
// instruction and capability set, and then requires its declared output to
// be present and non-empty.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"text/template"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/internal/workspace"
)

// ErrOutputMissing matches every *OutputMissingError.
var ErrOutputMissing = errors.New("stage output missing")

// OutputMissingError reports an executor run that finished without
// producing the declared artifact. It is not retried automatically.
type OutputMissingError struct {
	Stage    string
	Artifact string
}

func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("stage %s: output %s missing or empty", e.Stage, e.Artifact)
}

// Is makes errors.Is(err, ErrOutputMissing) hold.
func (e *OutputMissingError) Is(target error) bool { return target == ErrOutputMissing }

// Spec declares one step.
type Spec struct {
	Name         string
	Tier         agent.Tier
	Capabilities []agent.Capability

	// Inputs are session-relative artifacts that must be non-empty before
	// the executor runs.
	Inputs []string

	// WriteDir is the session-relative directory the agent may write into.
	WriteDir string

	// Output is the session-relative artifact the step must produce.
	Output string

	System string
	Prompt *template.Template
	Data   any

	Tools []agent.Tool
}

// Runner executes Specs against one workspace.
type Runner struct {
	exec   agent.Executor
	store  *workspace.Store
	logger *slog.Logger
}

// NewRunner builds a Runner. A nil logger discards output.
func NewRunner(exec agent.Executor, store *workspace.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{exec: exec, store: store, logger: logger}
}

// Run executes spec for a session.
func (r *Runner) Run(ctx context.Context, sessionID string, spec Spec) error {
	for _, in := range spec.Inputs {
		if !r.store.IsNonEmpty(sessionID, in) {
			return fmt.Errorf("stage %s: input %s: %w", spec.Name, in, workspace.ErrNotFound)
		}
	}

	msg, err := Render(spec.Prompt, spec.Data)
	if err != nil {
		return fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	scope, err := r.store.Scope(sessionID)
	if err != nil {
		return err
	}
	writeDir := spec.WriteDir
	if writeDir == "" {
		writeDir = path.Dir(spec.Output)
	}

	req := agent.Request{
		Tier:         spec.Tier,
		Capabilities: spec.Capabilities,
		Scope:        scope,
		WriteDir:     writeDir,
		System:       spec.System,
		Message:      msg,
		Tools:        spec.Tools,
	}

	r.logger.Info("stage started", "session", sessionID, "stage", spec.Name, "tier", string(spec.Tier))
	if err := Execute(ctx, r.exec, r.store, sessionID, spec.Name, req); err != nil {
		return fmt.Errorf("stage %s: %w", spec.Name, err)
	}

	if !r.store.IsNonEmpty(sessionID, spec.Output) {
		return &OutputMissingError{Stage: spec.Name, Artifact: spec.Output}
	}
	r.logger.Info("stage finished", "session", sessionID, "stage", spec.Name, "output", spec.Output)
	return nil
}

// Execute runs the executor once and mirrors its tool activity into the
// session transcript under label.
func Execute(ctx context.Context, exec agent.Executor, store *workspace.Store, sessionID, label string, req agent.Request) error {
	events := make(chan agent.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Type {
			case agent.EventToolCall:
				store.AppendLog(sessionID, workspace.LevelEvent, fmt.Sprintf("[%s] tool_call %s", label, ev.Tool))
			case agent.EventToolResult:
				if ev.IsError {
					store.AppendLog(sessionID, workspace.LevelWarn, fmt.Sprintf("[%s] tool %s failed: %s", label, ev.Tool, truncate(ev.Content, 200)))
				}
			}
		}
	}()

	err := exec.Execute(ctx, req, events)
	close(events)
	<-done
	if err != nil {
		store.AppendLog(sessionID, workspace.LevelError, fmt.Sprintf("[%s] %v", label, err))
	}
	return err
}

// Render executes a prompt template.
func Render(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", fmt.Errorf("no prompt template")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return webtext.Clip(s, n) + "..."
}
