// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/report-engine/internal/autonomous"
	"github.com/pdiddy/report-engine/internal/pipeline"
	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the progress of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		st, err := pipeline.Status(store, args[0])
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Printf("Status:   %s\n", st.Status)
		if st.CurrentStage != "" {
			fmt.Printf("Stage:    %s\n", st.CurrentStage)
		}
		if !st.LastUpdated.IsZero() {
			fmt.Printf("Updated:  %s\n", st.LastUpdated.Format(time.RFC3339))
		}

		tail, _ := cmd.Flags().GetInt("tail")
		if tail > 0 {
			lines, err := store.Transcript(args[0], tail)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, l := range lines {
				fmt.Println(l)
			}
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the best available report of a session",
	Long: `Report prints the styled report when it exists, otherwise the newest
revised draft, otherwise the first draft. The chosen file is named on stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		ref, data, err := sessionReport(store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Report:", ref)
		_, err = os.Stdout.Write(data)
		return err
	},
}

// sessionReport resolves the report according to the session's mode.
func sessionReport(store *workspace.Store, id string) (string, []byte, error) {
	sess, err := store.Load(id)
	if err != nil {
		return "", nil, err
	}
	if sess.Mode != types.ModeAutonomous {
		return pipeline.Report(store, id)
	}
	ref, err := autonomous.ReportRef(store, id)
	if err != nil {
		return "", nil, err
	}
	data, err := store.Read(id, ref)
	return ref, data, err
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions in creation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		ids, err := store.ListSessions()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Session", "Mode", "Status", "Stage", "Created", "Topic"})
		for _, id := range ids {
			sess, err := store.Load(id)
			if err != nil {
				logger.Warn("skipping unreadable session", "session", id, "error", err)
				continue
			}
			tw.AppendRow(table.Row{
				sess.ID, sess.Mode, sess.Status, sess.CurrentStage,
				sess.CreatedAt.Format("2006-01-02 15:04"), truncate(sess.Topic, 60),
			})
		}
		tw.Render()
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return webtext.Clip(s, n-3) + "..."
}

func init() {
	statusCmd.Flags().Bool("json", false, "output status as JSON")
	statusCmd.Flags().Int("tail", 0, "also print the last N transcript lines")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sessionsCmd)
}
