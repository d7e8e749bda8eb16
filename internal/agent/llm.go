// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/pdiddy/report-engine/internal/webtext"
)

const defaultMaxTurns = 40

// LLMExecutor runs a tool-calling loop over langchaingo models, one model
// per tier.
type LLMExecutor struct {
	models   map[Tier]llms.Model
	fetcher  *webtext.Fetcher
	maxTurns int
	logger   *slog.Logger
}

// ExecutorOption customizes an LLMExecutor.
type ExecutorOption func(*LLMExecutor)

// WithFetcher sets the page fetcher behind the web capability.
func WithFetcher(f *webtext.Fetcher) ExecutorOption {
	return func(e *LLMExecutor) { e.fetcher = f }
}

// WithMaxTurns sets the default turn limit.
func WithMaxTurns(n int) ExecutorOption {
	return func(e *LLMExecutor) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *LLMExecutor) { e.logger = l }
}

// NewLLMExecutor builds an executor. Tiers missing from models fall back to
// the standard tier.
func NewLLMExecutor(models map[Tier]llms.Model, opts ...ExecutorOption) *LLMExecutor {
	e := &LLMExecutor{
		models:   models,
		fetcher:  &webtext.Fetcher{},
		maxTurns: defaultMaxTurns,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LLMExecutor) model(tier Tier) (llms.Model, bool) {
	if m, ok := e.models[tier]; ok && m != nil {
		return m, true
	}
	m, ok := e.models[TierStandard]
	return m, ok && m != nil
}

// Execute implements Executor.
func (e *LLMExecutor) Execute(ctx context.Context, req Request, events chan<- Event) error {
	model, ok := e.model(req.Tier)
	if !ok {
		return &ExecutorError{Tier: req.Tier, Err: fmt.Errorf("no model configured")}
	}

	tools := append(builtinTools(req, e.fetcher), req.Tools...)
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	var opts []llms.CallOption
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(tools)))
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Message))

	maxTurns := e.maxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}

	log := e.logger.With("tier", string(req.Tier), "write_dir", req.WriteDir)
	for turn := 1; turn <= maxTurns; turn++ {
		messages = drainInbox(req.Inbox, messages)
		if err := ctx.Err(); err != nil {
			return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
		}

		resp, err := model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			log.Error("model call failed", "turn", turn, "error", err)
			return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
		}
		if resp == nil || len(resp.Choices) == 0 {
			return &ExecutorError{Tier: req.Tier, Turn: turn, Err: fmt.Errorf("model returned no choices")}
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			if choice.Content != "" {
				if err := emit(ctx, events, Event{Type: EventMessage, Content: choice.Content}); err != nil {
					return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
				}
			}
			log.Debug("agent finished", "turns", turn)
			return nil
		}

		if choice.Content != "" {
			if err := emit(ctx, events, Event{Type: EventThinking, Content: choice.Content}); err != nil {
				return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
			}
		}

		// Each call is replayed as its own assistant/tool pair; some
		// providers only read the first part of an assistant message.
		for _, tc := range choice.ToolCalls {
			name, args := "", ""
			if tc.FunctionCall != nil {
				name, args = tc.FunctionCall.Name, tc.FunctionCall.Arguments
			}
			if err := emit(ctx, events, Event{Type: EventToolCall, Tool: name, Input: args}); err != nil {
				return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
			}

			result, failed := invoke(ctx, byName, name, args)
			log.Debug("tool call", "turn", turn, "tool", name, "failed", failed)
			if err := emit(ctx, events, Event{Type: EventToolResult, Tool: name, Content: result, IsError: failed}); err != nil {
				return &ExecutorError{Tier: req.Tier, Turn: turn, Err: err}
			}

			messages = append(messages,
				llms.MessageContent{
					Role: llms.ChatMessageTypeAI,
					Parts: []llms.ContentPart{llms.ToolCall{
						ID:           tc.ID,
						Type:         "function",
						FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
					}},
				},
				llms.MessageContent{
					Role: llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       name,
						Content:    result,
					}},
				},
			)
		}
	}
	return &ExecutorError{Tier: req.Tier, Turn: maxTurns, Err: ErrTurnLimit}
}

// invoke runs one tool. Failures are reported back to the model as text.
func invoke(ctx context.Context, tools map[string]Tool, name, args string) (string, bool) {
	t, ok := tools[name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name), true
	}
	out, err := t.Handler(ctx, json.RawMessage(args))
	if err != nil {
		return "error: " + err.Error(), true
	}
	return out, false
}

func drainInbox(inbox <-chan string, messages []llms.MessageContent) []llms.MessageContent {
	if inbox == nil {
		return messages
	}
	for {
		select {
		case msg, ok := <-inbox:
			if !ok {
				return messages
			}
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg))
		default:
			return messages
		}
	}
}

func toLLMTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
