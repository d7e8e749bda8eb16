// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent runs a tool-calling LLM agent against a session workspace.
// Callers describe the model tier, the capabilities the agent may use, and
// the directory it may touch; the agent produces artifacts through its own
// tool calls.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tier selects the model used for a run.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
)

// Capability grants a group of built-in tools.
type Capability string

const (
	// CapRead allows read_file and list_files anywhere in the Scope.
	CapRead Capability = "read"

	// CapWrite allows write_file inside WriteDir.
	CapWrite Capability = "write"

	// CapWeb allows fetch_url.
	CapWeb Capability = "web"
)

// ToolFunc handles one tool invocation. The returned string is sent back to
// the model. An error is also reported to the model; it does not stop the run.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string

	// Parameters is a JSON schema object describing the arguments.
	Parameters map[string]any

	Handler ToolFunc
}

// Request describes one executor run.
type Request struct {
	Tier         Tier
	Capabilities []Capability

	// Scope is the absolute directory the agent may read.
	Scope string

	// WriteDir is the Scope-relative directory write_file targets.
	WriteDir string

	System  string
	Message string

	// Tools are domain tools offered in addition to the capability tools.
	Tools []Tool

	// Inbox carries messages injected while the run is in progress. It is
	// drained without blocking between model turns.
	Inbox <-chan string

	// MaxTurns overrides the executor's default turn limit when positive.
	MaxTurns int
}

// Has reports whether the request grants c.
func (r Request) Has(c Capability) bool {
	for _, have := range r.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Executor runs an agent to completion. It returns nil when the agent
// signals it is done and an *ExecutorError when the model or its transport
// fails. When events is non-nil every step is sent to it; sends block until
// the receiver takes the event or ctx is done.
type Executor interface {
	Execute(ctx context.Context, req Request, events chan<- Event) error
}

// EventType classifies a progress event.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventMessage    EventType = "message"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one step of an agent run.
type Event struct {
	Type    EventType `json:"type" yaml:"type"`
	Time    time.Time `json:"time" yaml:"time"`
	Content string    `json:"content,omitempty" yaml:"content,omitempty"`

	// Tool and Input are set for tool_call and tool_result events.
	Tool  string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Input string `json:"input,omitempty" yaml:"input,omitempty"`

	// IsError marks a tool_result whose handler failed.
	IsError bool `json:"is_error,omitempty" yaml:"is_error,omitempty"`

	// ToolCalls is the ordered tool-call sequence, set on complete events.
	ToolCalls []string `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
}

// ErrTurnLimit reports that the agent did not finish within MaxTurns.
var ErrTurnLimit = errors.New("turn limit reached")

// ExecutorError wraps a failure of the agent executor itself: network,
// quota, credentials, or an agent that never finishes.
type ExecutorError struct {
	Tier Tier
	Turn int
	Err  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor (%s tier, turn %d): %v", e.Tier, e.Turn, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// emit sends ev unless events is nil. It returns ctx.Err() if the receiver
// stops reading before the run is cancelled.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	if events == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
