// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/report-engine/internal/pipeline"
	"github.com/pdiddy/report-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Run the linear research, draft, verify and revise pipeline",
	Long: `Run executes the fixed pipeline for a topic: parallel research, a first
draft, claim extraction and verification, a bounded critique/revise loop, and a
final styled report. Progress lines are written to stderr; the run result is
printed to stdout and saved in the session directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
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

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithProgress(os.Stderr),
	}
	if eng.index != nil {
		opts = append(opts, pipeline.WithIndexer(eng.index))
	}
	ctrl, err := pipeline.New(cfg, eng.store, eng.exec, eng.verifier, opts...)
	if err != nil {
		return err
	}

	res := ctrl.Run(cmd.Context(), strings.Join(args, " "), style)

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printRunResult(res)
	}
	if !res.Success {
		return fmt.Errorf("run failed: %s", res.Error)
	}
	return nil
}

func printRunResult(res types.RunResult) {
	fmt.Printf("Session:       %s\n", res.SessionID)
	fmt.Printf("Outcome:       %s\n", res.Outcome)
	fmt.Printf("Sources:       %d\n", res.NumSources)
	fmt.Printf("Revisions:     %d\n", res.RevisionIterationsUsed)
	fmt.Printf("Verification:  %.2f (threshold met: %t)\n", res.FinalVerificationRate, res.ThresholdMet)
	if res.FinalReportRef != "" {
		fmt.Printf("Report:        %s\n", res.FinalReportRef)
	}
	if res.Error != "" {
		fmt.Printf("Error:         %s\n", res.Error)
	}
}

func init() {
	runCmd.Flags().String("style", "technical", "style guide: technical, conversational, academic, defi_report")
	runCmd.Flags().Int("researchers", 5, "number of parallel research workers (1-10)")
	runCmd.Flags().Int("max-revisions", 3, "maximum revise/re-verify iterations (1-5)")
	runCmd.Flags().Float64("threshold", 0.90, "verification rate that ends the revision loop (0-1)")
	runCmd.Flags().Bool("json", false, "print the run result as JSON")

	rootCmd.AddCommand(runCmd)
}
