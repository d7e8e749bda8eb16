// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/report-engine/internal/catalog"
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Query the catalog of verified claims",
	Long: `Claims searches and exports the SQLite catalog in which every
verification report is indexed. Searches combine full-text matching on the
claim text with filters on session, verification result and cited URL.`,
}

var claimsSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search claims with full-text search and filters",
	RunE:  runClaimsSearch,
}

func runClaimsSearch(cmd *cobra.Command, args []string) error {
	idx, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer idx.Close()

	opts := claimQueryFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide a search query, --session, --verified or --url")
	}
	results, err := idx.Search(cmd.Context(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Verified", "Claim", "Citation", "Session"})
	for i, r := range results {
		verified := "yes"
		if !r.Verified {
			verified = "no: " + truncate(r.Reason, 30)
		}
		tw.AppendRow(table.Row{i + 1, verified, truncate(r.Text, 60), truncate(r.CitationURL, 40), r.SessionID})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d results", len(results)), "", ""})
	tw.Render()
	return nil
}

var claimsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export catalog claims to YAML or JSON",
	RunE:  runClaimsExport,
}

func runClaimsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("output")

	idx, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer idx.Close()

	opts := claimQueryFromFlags(cmd, args)
	switch format {
	case "yaml", "":
		if out == "" {
			out = "claims-export.yaml"
		}
		err = idx.ExportYAML(cmd.Context(), out, opts)
	case "json":
		if out == "" {
			out = "claims-export.json"
		}
		err = idx.ExportJSON(cmd.Context(), out, opts)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	fmt.Println("Exported to", out)
	return nil
}

// openCatalog opens the catalog read side; it never creates a workspace.
func openCatalog(cmd *cobra.Command) (*catalog.Store, error) {
	cfg, err := pipelineConfig(cmd)
	if err != nil {
		return nil, err
	}
	path := catalogPath(cfg)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("claim catalog %s: %w", filepath.Clean(path), err)
	}
	return catalog.Open(path, cfg.Catalog.MaxResults)
}

func claimQueryFromFlags(cmd *cobra.Command, args []string) catalog.QueryOptions {
	queryText, _ := cmd.Flags().GetString("query")
	if queryText == "" && len(args) > 0 {
		queryText = strings.Join(args, " ")
	}
	session, _ := cmd.Flags().GetString("session")
	url, _ := cmd.Flags().GetString("url")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := catalog.QueryOptions{
		Query:      queryText,
		SessionID:  session,
		URL:        url,
		MaxResults: limit,
	}
	if cmd.Flags().Changed("verified") {
		v, _ := cmd.Flags().GetBool("verified")
		opts.Verified = &v
	}
	return opts
}

func init() {
	for _, c := range []*cobra.Command{claimsSearchCmd, claimsExportCmd} {
		c.Flags().String("query", "", "full-text search query")
		c.Flags().String("session", "", "filter by session ID")
		c.Flags().Bool("verified", false, "filter by verification result (use --verified=false for failed claims)")
		c.Flags().String("url", "", "filter by cited URL")
		c.Flags().Int("limit", 0, "maximum results (0 = use default)")
	}
	claimsSearchCmd.Flags().Bool("json", false, "output results as JSON")
	claimsExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	claimsExportCmd.Flags().String("output", "", "output file (default claims-export.<format>)")

	claimsCmd.AddCommand(claimsSearchCmd)
	claimsCmd.AddCommand(claimsExportCmd)
	rootCmd.AddCommand(claimsCmd)
}
