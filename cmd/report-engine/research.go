// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/autonomous"
	"github.com/pdiddy/report-engine/pkg/types"
)

var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Run an autonomous session where the agent decides the order of work",
	Long: `Research starts an autonomous session. The agent forms hypotheses,
researches, drafts, verifies and revises in whatever order it judges best,
and every step is streamed to stdout.

Lines typed on stdin while the session runs are passed to the agent before
its next turn.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func runResearch(cmd *cobra.Command, args []string) error {
	cfg, err := pipelineConfig(cmd)
	if err != nil {
		return err
	}
	styleName, _ := cmd.Flags().GetString("style")
	style, err := types.ParseStyleGuide(styleName)
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	opts := []autonomous.Option{autonomous.WithStyle(style), autonomous.WithLogger(logger)}
	if eng.index != nil {
		opts = append(opts, autonomous.WithIndexer(eng.index))
	}
	ctrl, err := autonomous.New(cfg, eng.store, eng.exec, eng.verifier, opts...)
	if err != nil {
		return err
	}

	stream, err := ctrl.Research(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Session:", stream.SessionID())

	interactive, _ := cmd.Flags().GetBool("interactive")
	if interactive {
		go forwardInput(stream)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	enc := json.NewEncoder(os.Stdout)
	var last agent.Event
	for ev := range stream.Events() {
		last = ev
		if jsonOutput {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		printEvent(ev)
	}

	if last.Type == agent.EventError {
		return fmt.Errorf("autonomous session failed: %s", last.Content)
	}
	return nil
}

// forwardInput injects each stdin line into the running session.
func forwardInput(stream *autonomous.Stream) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !stream.Inject(line) {
			fmt.Fprintln(os.Stderr, "inbox full, message dropped")
		}
	}
}

func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventToolCall:
		fmt.Printf("-> %s %s\n", ev.Tool, ev.Input)
	case agent.EventToolResult:
		if ev.IsError {
			fmt.Printf("<- %s failed: %s\n", ev.Tool, ev.Content)
			return
		}
		fmt.Printf("<- %s: %s\n", ev.Tool, firstLine(ev.Content))
	case agent.EventThinking, agent.EventMessage:
		if ev.Content != "" {
			fmt.Printf("   %s\n", ev.Content)
		}
	case agent.EventComplete:
		fmt.Printf("complete after %d tool calls", len(ev.ToolCalls))
		if ev.Content != "" {
			fmt.Printf("; report: %s", ev.Content)
		}
		fmt.Println()
	case agent.EventError:
		fmt.Printf("error: %s\n", ev.Content)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	researchCmd.Flags().String("style", "technical", "default style guide for the final report")
	researchCmd.Flags().Int("researchers", 5, "number of parallel research workers per round (1-10)")
	researchCmd.Flags().Int("max-revisions", 3, "maximum draft revisions (1-5)")
	researchCmd.Flags().Float64("threshold", 0.90, "verification rate to aim for (0-1)")
	researchCmd.Flags().Bool("interactive", false, "forward stdin lines to the agent while it runs")
	researchCmd.Flags().Bool("json", false, "stream events as JSON lines")

	rootCmd.AddCommand(researchCmd)
}
