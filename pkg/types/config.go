package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "report-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ModelTiers maps the executor tiers to provider model identifiers.
type ModelTiers struct {
	// Fast serves the research workers.
	Fast string `json:"fast" yaml:"fast"`

	// Standard serves draft, extract, critique and style stages.
	Standard string `json:"standard" yaml:"standard"`

	// Deep serves revisions and the autonomous driver.
	Deep string `json:"deep" yaml:"deep"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Provider selects the LLM backend: anthropic, openai or ollama.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Models maps tiers to model identifiers.
	Models ModelTiers `json:"models" yaml:"models"`

	// MaxTurns bounds the number of model turns in one executor run.
	MaxTurns int `json:"max_turns" yaml:"max_turns"`

	// MaxRetries is the number of retry attempts for failed judge calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ResearchConfig holds settings for the research fan-out.
type ResearchConfig struct {
	// NumResearchers is the number of concurrent research workers, 1-10.
	NumResearchers int `json:"num_researchers" yaml:"num_researchers"`
}

// QualityConfig holds the convergence loop bounds.
type QualityConfig struct {
	// MaxRevisionIterations caps revise/re-verify cycles, 1-5.
	MaxRevisionIterations int `json:"max_revision_iterations" yaml:"max_revision_iterations"`

	// VerificationThreshold is the rate at which the loop stops, 0-1.
	VerificationThreshold float64 `json:"verification_threshold" yaml:"verification_threshold"`
}

// VerificationConfig holds settings for the claim verification engine.
type VerificationConfig struct {
	HTTPConfig `yaml:",inline"`

	// Concurrency bounds the number of claims checked at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// RequestsPerSecond paces outbound probe and fetch requests.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// MaxContentBytes caps how much of a cited page is read.
	MaxContentBytes int64 `json:"max_content_bytes" yaml:"max_content_bytes"`
}

// AutonomousConfig holds settings for the tool-driven controller.
type AutonomousConfig struct {
	// DraftCertitude is the average hypothesis certitude required before drafting.
	DraftCertitude float64 `json:"draft_certitude" yaml:"draft_certitude"`

	// InboxSize bounds the number of queued injected messages.
	InboxSize int `json:"inbox_size" yaml:"inbox_size"`
}

// CatalogConfig holds settings for the SQLite claim catalog.
type CatalogConfig struct {
	// Enabled turns claim indexing on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the database file. Empty means <workspace>/catalog.db.
	Path string `json:"path" yaml:"path"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// PipelineConfig groups all settings for one engine instance.
type PipelineConfig struct {
	// WorkspaceDir is the root directory holding one directory per session.
	WorkspaceDir string `json:"workspace_dir" yaml:"workspace_dir"`

	AI           AIConfig           `json:"ai" yaml:"ai"`
	Research     ResearchConfig     `json:"research" yaml:"research"`
	Quality      QualityConfig      `json:"quality" yaml:"quality"`
	Verification VerificationConfig `json:"verification" yaml:"verification"`
	Autonomous   AutonomousConfig   `json:"autonomous" yaml:"autonomous"`
	Catalog      CatalogConfig      `json:"catalog" yaml:"catalog"`
}

// DefaultPipelineConfig returns the configuration used when nothing is overridden.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		WorkspaceDir: "workspace",
		AI: AIConfig{
			Provider: "anthropic",
			Models: ModelTiers{
				Fast:     "claude-3-5-haiku-20241022",
				Standard: "claude-sonnet-4-5-20250929",
				Deep:     "claude-opus-4-20250514",
			},
			MaxTurns:   40,
			MaxRetries: 3,
		},
		Research: ResearchConfig{NumResearchers: 5},
		Quality: QualityConfig{
			MaxRevisionIterations: 3,
			VerificationThreshold: 0.90,
		},
		Verification: VerificationConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   20 * time.Second,
				UserAgent: "report-engine/0.1",
			},
			Concurrency:       4,
			RequestsPerSecond: 5,
			MaxContentBytes:   2 << 20,
		},
		Autonomous: AutonomousConfig{
			DraftCertitude: 0.6,
			InboxSize:      8,
		},
		Catalog: CatalogConfig{
			Enabled:    true,
			MaxResults: 20,
		},
	}
}

// ConfigError reports an invalid parameter or missing credential. It is
// fatal and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Validate checks the ranges the pipeline depends on.
func (c PipelineConfig) Validate() error {
	if c.WorkspaceDir == "" {
		return &ConfigError{Field: "workspace_dir", Reason: "must not be empty"}
	}
	if err := ValidateNumResearchers(c.Research.NumResearchers); err != nil {
		return err
	}
	if n := c.Quality.MaxRevisionIterations; n < 1 || n > 5 {
		return &ConfigError{Field: "max_revision_iterations", Reason: fmt.Sprintf("%d out of range [1,5]", n)}
	}
	if th := c.Quality.VerificationThreshold; th < 0 || th > 1 {
		return &ConfigError{Field: "verification_threshold", Reason: fmt.Sprintf("%v out of range [0,1]", th)}
	}
	if c.Verification.Concurrency < 1 {
		return &ConfigError{Field: "verification.concurrency", Reason: "must be at least 1"}
	}
	if c.AI.MaxTurns < 1 {
		return &ConfigError{Field: "ai.max_turns", Reason: "must be at least 1"}
	}
	if g := c.Autonomous.DraftCertitude; g < 0 || g > 1 {
		return &ConfigError{Field: "autonomous.draft_certitude", Reason: fmt.Sprintf("%v out of range [0,1]", g)}
	}
	return nil
}

// ValidateNumResearchers checks the research fan-out width.
func ValidateNumResearchers(n int) error {
	if n < 1 || n > 10 {
		return &ConfigError{Field: "num_researchers", Reason: fmt.Sprintf("%d out of range [1,10]", n)}
	}
	return nil
}

// SessionConfig derives the per-session settings recorded in metadata.
func (c PipelineConfig) SessionConfig(style StyleGuide) SessionConfig {
	return SessionConfig{
		NumResearchers:        c.Research.NumResearchers,
		MaxRevisionIterations: c.Quality.MaxRevisionIterations,
		VerificationThreshold: c.Quality.VerificationThreshold,
		StyleGuide:            style,
	}
}
