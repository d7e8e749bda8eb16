// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/report-engine/internal/agent"
	"github.com/pdiddy/report-engine/internal/catalog"
	"github.com/pdiddy/report-engine/internal/secrets"
	"github.com/pdiddy/report-engine/internal/verify"
	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/internal/workspace"
	"github.com/pdiddy/report-engine/pkg/types"
)

// setDefaults registers every configuration key with its default so that
// environment variables are picked up for nested keys.
func setDefaults(v *viper.Viper) {
	d := types.DefaultPipelineConfig()
	v.SetDefault("workspace_dir", d.WorkspaceDir)

	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.models.fast", d.AI.Models.Fast)
	v.SetDefault("ai.models.standard", d.AI.Models.Standard)
	v.SetDefault("ai.models.deep", d.AI.Models.Deep)
	v.SetDefault("ai.max_turns", d.AI.MaxTurns)
	v.SetDefault("ai.max_retries", d.AI.MaxRetries)

	v.SetDefault("research.num_researchers", d.Research.NumResearchers)
	v.SetDefault("quality.max_revision_iterations", d.Quality.MaxRevisionIterations)
	v.SetDefault("quality.verification_threshold", d.Quality.VerificationThreshold)

	v.SetDefault("verification.timeout", d.Verification.Timeout)
	v.SetDefault("verification.user_agent", d.Verification.UserAgent)
	v.SetDefault("verification.concurrency", d.Verification.Concurrency)
	v.SetDefault("verification.requests_per_second", d.Verification.RequestsPerSecond)
	v.SetDefault("verification.max_content_bytes", d.Verification.MaxContentBytes)

	v.SetDefault("autonomous.draft_certitude", d.Autonomous.DraftCertitude)
	v.SetDefault("autonomous.inbox_size", d.Autonomous.InboxSize)

	v.SetDefault("catalog.enabled", d.Catalog.Enabled)
	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("catalog.max_results", d.Catalog.MaxResults)
}

// pipelineConfig builds the configuration from viper and the command's
// override flags, then validates it.
func pipelineConfig(cmd *cobra.Command) (types.PipelineConfig, error) {
	v := viper.GetViper()
	cfg := types.DefaultPipelineConfig()
	cfg.WorkspaceDir = v.GetString("workspace_dir")

	cfg.AI.Provider = v.GetString("ai.provider")
	cfg.AI.APIKey = secrets.APIKey(cfg.AI.Provider, v.GetString("ai.api_key"), loadedSecrets)
	cfg.AI.Models = types.ModelTiers{
		Fast:     v.GetString("ai.models.fast"),
		Standard: v.GetString("ai.models.standard"),
		Deep:     v.GetString("ai.models.deep"),
	}
	cfg.AI.MaxTurns = v.GetInt("ai.max_turns")
	cfg.AI.MaxRetries = v.GetInt("ai.max_retries")

	cfg.Research.NumResearchers = v.GetInt("research.num_researchers")
	cfg.Quality.MaxRevisionIterations = v.GetInt("quality.max_revision_iterations")
	cfg.Quality.VerificationThreshold = v.GetFloat64("quality.verification_threshold")

	cfg.Verification.Timeout = v.GetDuration("verification.timeout")
	cfg.Verification.UserAgent = v.GetString("verification.user_agent")
	cfg.Verification.Concurrency = v.GetInt("verification.concurrency")
	cfg.Verification.RequestsPerSecond = v.GetFloat64("verification.requests_per_second")
	cfg.Verification.MaxContentBytes = v.GetInt64("verification.max_content_bytes")

	cfg.Autonomous.DraftCertitude = v.GetFloat64("autonomous.draft_certitude")
	cfg.Autonomous.InboxSize = v.GetInt("autonomous.inbox_size")

	cfg.Catalog.Enabled = v.GetBool("catalog.enabled")
	cfg.Catalog.Path = v.GetString("catalog.path")
	cfg.Catalog.MaxResults = v.GetInt("catalog.max_results")

	flags := cmd.Flags()
	if flags.Lookup("researchers") != nil && flags.Changed("researchers") {
		cfg.Research.NumResearchers, _ = flags.GetInt("researchers")
	}
	if flags.Lookup("max-revisions") != nil && flags.Changed("max-revisions") {
		cfg.Quality.MaxRevisionIterations, _ = flags.GetInt("max-revisions")
	}
	if flags.Lookup("threshold") != nil && flags.Changed("threshold") {
		cfg.Quality.VerificationThreshold, _ = flags.GetFloat64("threshold")
	}

	if err := cfg.Validate(); err != nil {
		return types.PipelineConfig{}, err
	}
	return cfg, nil
}

// catalogPath resolves the catalog database file.
func catalogPath(cfg types.PipelineConfig) string {
	if cfg.Catalog.Path != "" {
		return cfg.Catalog.Path
	}
	return filepath.Join(cfg.WorkspaceDir, catalog.DefaultFile)
}

// engine bundles the components shared by the run and research commands.
type engine struct {
	store    *workspace.Store
	exec     agent.Executor
	verifier *verify.Engine
	index    *catalog.Store
}

func (e *engine) Close() error {
	if e.index != nil {
		return e.index.Close()
	}
	return nil
}

// newEngine wires the executor, the verification engine and, when enabled,
// the claim catalog.
func newEngine(cfg types.PipelineConfig) (*engine, error) {
	store, err := workspace.NewStore(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	models, err := agent.NewModels(cfg.AI)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.Verification.Timeout}
	fetcher := &webtext.Fetcher{
		Client:    client,
		UserAgent: cfg.Verification.UserAgent,
		MaxBytes:  cfg.Verification.MaxContentBytes,
	}
	exec := agent.NewLLMExecutor(models,
		agent.WithFetcher(fetcher),
		agent.WithMaxTurns(cfg.AI.MaxTurns),
		agent.WithLogger(logger),
	)

	verifier := verify.NewEngine(
		&verify.HTTPProber{Client: client, UserAgent: cfg.Verification.UserAgent},
		&verify.PageFetcher{Fetcher: fetcher},
		&verify.LLMJudge{Model: models[agent.TierStandard], MaxRetries: cfg.AI.MaxRetries},
		verify.WithConcurrency(cfg.Verification.Concurrency),
		verify.WithRateLimit(cfg.Verification.RequestsPerSecond),
		verify.WithLogger(logger),
	)

	e := &engine{store: store, exec: exec, verifier: verifier}
	if cfg.Catalog.Enabled {
		idx, err := catalog.Open(catalogPath(cfg), cfg.Catalog.MaxResults)
		if err != nil {
			return nil, fmt.Errorf("opening claim catalog: %w", err)
		}
		e.index = idx
	}
	return e, nil
}

// openStore opens the workspace without building any models.
func openStore(cmd *cobra.Command) (*workspace.Store, types.PipelineConfig, error) {
	cfg, err := pipelineConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	store, err := workspace.NewStore(cfg.WorkspaceDir)
	return store, cfg, err
}
